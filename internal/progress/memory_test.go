package progress

import "testing"

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}
