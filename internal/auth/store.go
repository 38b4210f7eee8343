// Package auth manages the Chzzk session: cookie storage, derived request
// headers, and scheduled re-authentication.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"sort"
	"strings"
	"sync/atomic"
)

// ErrSessionMissing indicates no session blob was found at construction.
var ErrSessionMissing = errors.New("session blob not found")

// Fixed header values sent with every Chzzk request.
const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/138.0.0.0 Safari/537.36"
	acceptHeader       = "application/json, text/plain, */*"
	acceptLanguage     = "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7"
	chzzkOrigin        = "https://chzzk.naver.com"
	deviceIDCookie     = "ba.uuid"
	fallbackDeviceID   = "4438f666-fa96-4d28-9cc8-39c460399cc8"
	adultSessionCookie = "NID_SES"
)

// Cookies is a name→value cookie mapping.
type Cookies map[string]string

// sessionBlob is the on-disk session shape produced by the login collaborator.
type sessionBlob struct {
	Cookies []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"cookies"`
}

// snapshot is an immutable cookie+header pair published atomically.
type snapshot struct {
	cookies Cookies
	headers map[string]string
}

// Store holds the current session cookies and their derived request headers.
// Readers take an atomic snapshot; Replace publishes a new one. In-flight
// requests keep whatever headers they captured.
type Store struct {
	current atomic.Pointer[snapshot]
}

// NewStore loads the session blob at path and derives the initial headers.
// Returns ErrSessionMissing when the blob does not exist.
func NewStore(path string) (*Store, error) {
	cookies, err := LoadCookies(path)
	if err != nil {
		return nil, err
	}

	s := &Store{}
	s.Replace(cookies)
	return s, nil
}

// LoadCookies reads a session blob from disk. The login collaborator rewrites
// the blob in place, so the refresher re-reads it through this function.
func LoadCookies(path string) (Cookies, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSessionMissing, path)
		}
		return nil, fmt.Errorf("reading session blob: %w", err)
	}

	var blob sessionBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("parsing session blob: %w", err)
	}

	cookies := make(Cookies, len(blob.Cookies))
	for _, c := range blob.Cookies {
		cookies[c.Name] = c.Value
	}
	return cookies, nil
}

// NewStoreFromCookies builds a store directly from a cookie map.
// Used by tests and by callers that already hold a parsed session.
func NewStoreFromCookies(cookies Cookies) *Store {
	s := &Store{}
	s.Replace(cookies)
	return s
}

// Headers returns the currently active header set. The returned map is
// shared and must not be mutated.
func (s *Store) Headers() map[string]string {
	return s.current.Load().headers
}

// Cookies returns a copy of the current cookie set.
func (s *Store) Cookies() Cookies {
	snap := s.current.Load()
	out := make(Cookies, len(snap.cookies))
	maps.Copy(out, snap.cookies)
	return out
}

// Replace atomically installs a new cookie set and its derived headers.
// Subsequent Headers calls observe the new set.
func (s *Store) Replace(cookies Cookies) {
	copied := make(Cookies, len(cookies))
	maps.Copy(copied, cookies)
	s.current.Store(&snapshot{
		cookies: copied,
		headers: deriveHeaders(copied),
	})
}

// HasAdultAuth reports whether the session carries the full-auth cookie
// required for adult-flagged channels.
func (s *Store) HasAdultAuth() bool {
	_, ok := s.current.Load().cookies[adultSessionCookie]
	return ok
}

// deriveHeaders builds the Chzzk request header set from a cookie map.
func deriveHeaders(cookies Cookies) map[string]string {
	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+cookies[name])
	}

	deviceID := cookies[deviceIDCookie]
	if deviceID == "" {
		deviceID = fallbackDeviceID
	}

	return map[string]string{
		"User-Agent":                 userAgent,
		"Accept":                     acceptHeader,
		"Accept-Language":            acceptLanguage,
		"Origin":                     chzzkOrigin,
		"Referer":                    chzzkOrigin + "/",
		"Cookie":                     strings.Join(pairs, "; "),
		"deviceid":                   deviceID,
		"front-client-platform-type": "PC",
		"front-client-product-type":  "web",
	}
}
