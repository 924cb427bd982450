package browser

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

// sessionState is the persisted login: cookies plus the page's local storage
type sessionState struct {
	Cookies      []storedCookie    `json:"cookies"`
	LocalStorage map[string]string `json:"local_storage,omitempty"`
}

type storedCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"` // unix seconds, 0 for session cookies
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
}

func encodeSession(cookies []*network.Cookie, local map[string]string) ([]byte, error) {
	state := sessionState{
		Cookies:      make([]storedCookie, 0, len(cookies)),
		LocalStorage: local,
	}
	for _, c := range cookies {
		if c == nil {
			continue
		}
		sc := storedCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite.String(),
		}
		if !c.Session && c.Expires > 0 {
			sc.Expires = c.Expires
		}
		state.Cookies = append(state.Cookies, sc)
	}

	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return data, nil
}

func decodeSession(blob []byte) (*sessionState, error) {
	var state sessionState
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &state, nil
}

// cookieParams converts stored cookies for network.SetCookies, dropping
// cookies that have already expired.
func (s *sessionState) cookieParams(now time.Time) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		if c.Name == "" {
			continue
		}
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != "" {
			p.SameSite = network.CookieSameSite(c.SameSite)
		}
		if c.Expires > 0 {
			sec, frac := math.Modf(c.Expires)
			expires := time.Unix(int64(sec), int64(frac*1e9))
			if !expires.After(now) {
				continue
			}
			t := cdp.TimeSinceEpoch(expires)
			p.Expires = &t
		}
		params = append(params, p)
	}
	return params
}
