package domain

import (
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Identifier is a parsed content address. InfoHash is the canonical lowercase
// hex form and the registry key.
type Identifier struct {
	InfoHash    string
	Trackers    []string
	DisplayName string
	Raw         string
}

// Magnet renders the identifier as a magnet URI.
func (id Identifier) Magnet() string {
	q := url.Values{}
	if id.DisplayName != "" {
		q.Set("dn", id.DisplayName)
	}
	for _, tr := range id.Trackers {
		q.Add("tr", tr)
	}
	m := "magnet:?xt=urn:btih:" + id.InfoHash
	if enc := q.Encode(); enc != "" {
		m += "&" + enc
	}
	return m
}

// ParseIdentifier accepts a magnet URI or a bare 40-character hex infohash.
func ParseIdentifier(raw string) (Identifier, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identifier{}, fmt.Errorf("%w: empty", ErrInvalidIdentifier)
	}
	if !strings.HasPrefix(strings.ToLower(raw), "magnet:") {
		ih, err := normalizeInfoHash(raw)
		if err != nil {
			return Identifier{}, err
		}
		return Identifier{InfoHash: ih, Raw: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Identifier{}, fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
	}
	q := u.Query()
	var ih string
	for _, xt := range q["xt"] {
		const prefix = "urn:btih:"
		if !strings.HasPrefix(strings.ToLower(xt), prefix) {
			continue
		}
		ih, err = normalizeInfoHash(xt[len(prefix):])
		if err != nil {
			return Identifier{}, err
		}
		break
	}
	if ih == "" {
		return Identifier{}, fmt.Errorf("%w: magnet has no btih", ErrInvalidIdentifier)
	}
	return Identifier{
		InfoHash:    ih,
		Trackers:    q["tr"],
		DisplayName: q.Get("dn"),
		Raw:         raw,
	}, nil
}

func normalizeInfoHash(s string) (string, error) {
	switch len(s) {
	case 40:
		b, err := hex.DecodeString(s)
		if err != nil {
			return "", fmt.Errorf("%w: bad hex infohash", ErrInvalidIdentifier)
		}
		return hex.EncodeToString(b), nil
	case 32:
		b, err := base32.StdEncoding.DecodeString(strings.ToUpper(s))
		if err != nil {
			return "", fmt.Errorf("%w: bad base32 infohash", ErrInvalidIdentifier)
		}
		return hex.EncodeToString(b), nil
	default:
		return "", fmt.Errorf("%w: infohash must be 40 hex or 32 base32 chars", ErrInvalidIdentifier)
	}
}
