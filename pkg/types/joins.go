package types

// JoinExample is one useful join involving the table it is indexed under.
type JoinExample struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tables      []string `json:"tables"`
	SQL         string   `json:"sql"`
	Condition   string   `json:"condition"`
}

// JoinEntry lists every join example a table appears in.
type JoinEntry struct {
	ID    string        `json:"id"`
	Joins []JoinExample `json:"joins"`
}
