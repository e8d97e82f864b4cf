package models

// UserRecord is a single identity fetched from the provider
type UserRecord struct {
	ExternalID string // provider primary key
	Username   string // match key in the local users table
}

// UpdateRow is the positional parameter tuple bound to the identity UPDATE
type UpdateRow struct {
	AuthService string
	ExternalID  string
	Username    string
}

// Args returns the row in bind order: authservice, authdata, username
func (r UpdateRow) Args() []any {
	return []any{r.AuthService, r.ExternalID, r.Username}
}

// NewUpdateRows derives one UpdateRow per record under a fixed auth-service label
func NewUpdateRows(authService string, records []UserRecord) []UpdateRow {
	rows := make([]UpdateRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, UpdateRow{
			AuthService: authService,
			ExternalID:  rec.ExternalID,
			Username:    rec.Username,
		})
	}
	return rows
}

// BindResult summarizes a batched identity update
type BindResult struct {
	Submitted int      // statements sent
	Matched   int64    // sum of per-statement affected rows
	Unmatched []string // usernames whose statement touched no row
}

// Mismatch reports whether fewer local rows were updated than records submitted
func (r BindResult) Mismatch() bool {
	return len(r.Unmatched) > 0 || r.Matched < int64(r.Submitted)
}
