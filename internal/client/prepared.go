package client

// PreparedHandle is a server-acknowledged prepared statement.
type PreparedHandle struct {
	StatementID uint32
	ColumnsNum  uint16
	ParamsNum   uint16
}

// preparedCache maps (database, sql) to handles. It lives inside a
// session: a disconnect discards the whole session, so every surviving
// entry was acknowledged by the server on the current connection.
type preparedCache struct {
	entries map[preparedKey]PreparedHandle
}

type preparedKey struct {
	database string
	sql      string
}

func newPreparedCache() *preparedCache {
	return &preparedCache{entries: make(map[preparedKey]PreparedHandle)}
}

func (pc *preparedCache) get(database, sql string) (PreparedHandle, bool) {
	h, ok := pc.entries[preparedKey{database, sql}]
	return h, ok
}

func (pc *preparedCache) put(database, sql string, h PreparedHandle) {
	pc.entries[preparedKey{database, sql}] = h
}

func (pc *preparedCache) size() int { return len(pc.entries) }
