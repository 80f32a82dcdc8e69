// Package pairlink builds and parses the deep-link URI embedded in the
// pairing QR code. The link carries exactly the pairing id and the one-time
// token; the confirmation code is shown on-screen and never travels here.
package pairlink

import "net/url"

const Scheme = "devscope"

type Link struct {
	PairingID string
	Token     string
}

func Build(pairingID, token string) string {
	q := url.Values{}
	q.Set("pairingId", pairingID)
	q.Set("token", token)
	u := url.URL{Scheme: Scheme, Host: "pair", RawQuery: q.Encode()}
	return u.String()
}

// Parse extracts the pairing id and token from a deep link. The second return
// is false for anything that is not a well-formed pairing link.
func Parse(raw string) (Link, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return Link{}, false
	}
	if u.Scheme != Scheme || u.Host != "pair" {
		return Link{}, false
	}
	q := u.Query()
	link := Link{
		PairingID: q.Get("pairingId"),
		Token:     q.Get("token"),
	}
	if link.PairingID == "" || link.Token == "" {
		return Link{}, false
	}
	return link, true
}
