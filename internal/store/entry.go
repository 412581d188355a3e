package store

type entry struct {
	key   Key
	value []byte
	tags  *Tags
}

func newEntry(key Key, value []byte, tags *Tags) *entry {
	return &entry{key: key, value: value, tags: tags}
}

func (ent *entry) tagCount() int {
	return ent.tags.Count()
}

// commands replayed from the log mutate the engine through deserialize.

type deserializable interface {
	deserialize(e *Engine) error
}

func (ent *entry) deserialize(e *Engine) error {
	// log replay upserts: a later rec command for the same key wins
	return e.putUnderLock(ent, true)
}

type deleteCmd struct {
	key Key
}

func (cmd *deleteCmd) deserialize(e *Engine) error {
	return e.removeUnderLock(cmd.key)
}

type tagCmd struct {
	key  Key
	tags *Tags
}

func (cmd *tagCmd) deserialize(e *Engine) error {
	return e.tagUnderLock(cmd.key, cmd.tags)
}

type untagCmd struct {
	key   Key
	names []string
}

func (cmd *untagCmd) deserialize(e *Engine) error {
	return e.untagUnderLock(cmd.key, cmd.names...)
}
