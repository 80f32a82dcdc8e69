package dto

type IdentityResponse struct {
	Service         string   `json:"service"`
	ProtocolVersion int      `json:"protocolVersion"`
	RelayKind       string   `json:"relayKind"`
	RequiresE2EE    bool     `json:"requiresE2EE"`
	Fingerprint     string   `json:"fingerprint"`
	Capabilities    []string `json:"capabilities"`
}

type ChallengeRequest struct {
	Nonce string `json:"nonce"`
}

type ChallengeResponse struct {
	Signature   string `json:"signature"`
	Fingerprint string `json:"fingerprint"`
	Algorithm   string `json:"algorithm"`
}
