package oauth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrMalformedState is returned when a callback's state parameter cannot be decoded.
var ErrMalformedState = errors.New("malformed state parameter")

// StateRecord is round-tripped through the authorization redirect. The copy
// kept in the cache is authoritative; the URL copy only tells the callback
// which (org, user) slot to look in.
type StateRecord struct {
	State  string `json:"state"`
	UserID string `json:"user_id"`
	OrgID  string `json:"org_id"`
}

// StateCodec turns a StateRecord into the state query parameter and back.
type StateCodec interface {
	Encode(rec StateRecord) (string, error)
	Decode(raw string) (StateRecord, error)
}

// NewStateRecord generates a fresh random state token for (user, org).
func NewStateRecord(userID, orgID string) (StateRecord, error) {
	token, err := GenerateState()
	if err != nil {
		return StateRecord{}, err
	}
	return StateRecord{State: token, UserID: userID, OrgID: orgID}, nil
}

// Matches reports whether other carries the same random token.
func (r StateRecord) Matches(other StateRecord) bool {
	return r.State != "" && r.State == other.State
}

func (r StateRecord) validate() error {
	if r.State == "" || r.UserID == "" || r.OrgID == "" {
		return fmt.Errorf("%w: missing state, user_id or org_id", ErrMalformedState)
	}
	return nil
}

// JSONCodec passes the record as plain JSON.
type JSONCodec struct{}

func (JSONCodec) Encode(rec StateRecord) (string, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}
	return string(b), nil
}

func (JSONCodec) Decode(raw string) (StateRecord, error) {
	var rec StateRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return StateRecord{}, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	return rec, rec.validate()
}

// Base64JSONCodec wraps the JSON record in URL-safe base64. Decoding accepts
// padded and unpadded input.
type Base64JSONCodec struct{}

func (Base64JSONCodec) Encode(rec StateRecord) (string, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

func (Base64JSONCodec) Decode(raw string) (StateRecord, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
	if err != nil {
		return StateRecord{}, fmt.Errorf("%w: %v", ErrMalformedState, err)
	}
	return JSONCodec{}.Decode(string(b))
}

// LenientJSONCodec is JSONCodec for providers that hand the state back with an
// extra layer of escaping and spaces turned into '+'.
type LenientJSONCodec struct{}

func (LenientJSONCodec) Encode(rec StateRecord) (string, error) {
	return JSONCodec{}.Encode(rec)
}

func (LenientJSONCodec) Decode(raw string) (StateRecord, error) {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		decoded = raw
	}
	return JSONCodec{}.Decode(strings.ReplaceAll(decoded, "+", " "))
}
