package prefs

// Editor collects changes to a Store. Nothing is visible to readers until Commit.
type Editor struct {
	store   *Store
	pending map[string]any
}

// PutString stores a string
func (e *Editor) PutString(key, value string) *Editor {
	e.pending[key] = value
	return e
}

// PutInt stores an integer
func (e *Editor) PutInt(key string, value int) *Editor {
	e.pending[key] = value
	return e
}

// PutBool stores a boolean
func (e *Editor) PutBool(key string, value bool) *Editor {
	e.pending[key] = value
	return e
}

// PutList stores a list
func (e *Editor) PutList(key string, value []any) *Editor {
	e.pending[key] = value
	return e
}

// PutMap stores a map
func (e *Editor) PutMap(key string, value map[string]any) *Editor {
	e.pending[key] = value
	return e
}

// Append adds item to the list under key, creating it when absent
func (e *Editor) Append(key string, item any) *Editor {
	list, _ := e.pending[key].([]any)
	e.pending[key] = append(append([]any(nil), list...), item)
	return e
}

// Remove deletes a key
func (e *Editor) Remove(key string) *Editor {
	delete(e.pending, key)
	return e
}

// Clear deletes every key
func (e *Editor) Clear() *Editor {
	e.pending = make(map[string]any)
	return e
}

// Commit writes the changes to disk and publishes them. On failure the
// store keeps its previous contents.
func (e *Editor) Commit() error {
	if err := e.store.write(e.pending); err != nil {
		return err
	}

	committed := make(map[string]any, len(e.pending))
	for k, v := range e.pending {
		committed[k] = v
	}

	e.store.mu.Lock()
	e.store.data = committed
	e.store.mu.Unlock()
	return nil
}
