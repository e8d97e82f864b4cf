package authentik

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/pkg/errors"

	"github.com/samandartukhtayev/authentik-sync/models"
)

// page is one response of the users endpoint. Only the fields the sync needs
// are decoded; Authentik also sends a pagination block which is ignored.
type page struct {
	Results []json.RawMessage `json:"results"`
	Next    *string           `json:"next"`
}

type rawUser struct {
	PK       json.RawMessage `json:"pk"`
	Username *string         `json:"username"`
}

func decodePage(r io.Reader) (*page, error) {
	var p page
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, errors.Wrap(err, "failed to decode page")
	}
	if p.Results == nil {
		return nil, errors.New("page has no results array")
	}
	return &p, nil
}

// records projects every raw entry of the page to a UserRecord. pageNum is
// only used for error messages.
func (p *page) records(pageNum int) ([]models.UserRecord, error) {
	out := make([]models.UserRecord, 0, len(p.Results))
	for i, raw := range p.Results {
		rec, err := projectUser(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "page %d, entry %d", pageNum, i)
		}
		out = append(out, rec)
	}
	return out, nil
}

func projectUser(raw json.RawMessage) (models.UserRecord, error) {
	var u rawUser
	if err := json.Unmarshal(raw, &u); err != nil {
		return models.UserRecord{}, errors.Wrapf(models.ErrMalformedRecord, "entry is not an object: %v", err)
	}

	id, err := externalID(u.PK)
	if err != nil {
		return models.UserRecord{}, err
	}
	if u.Username == nil || *u.Username == "" {
		return models.UserRecord{}, errors.Wrapf(models.ErrMalformedRecord, "user pk=%s has no username", id)
	}

	return models.UserRecord{ExternalID: id, Username: *u.Username}, nil
}

// externalID renders the pk as a string. Authentik uses integer pks; string
// pks are accepted verbatim.
func externalID(pk json.RawMessage) (string, error) {
	pk = bytes.TrimSpace(pk)
	if len(pk) == 0 || bytes.Equal(pk, []byte("null")) {
		return "", errors.Wrap(models.ErrMalformedRecord, "missing pk")
	}

	if pk[0] == '"' {
		var s string
		if err := json.Unmarshal(pk, &s); err != nil || s == "" {
			return "", errors.Wrapf(models.ErrMalformedRecord, "invalid pk %s", pk)
		}
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(pk, &n); err != nil {
		return "", errors.Wrapf(models.ErrMalformedRecord, "invalid pk %s", pk)
	}
	return n.String(), nil
}
