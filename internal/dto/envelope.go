package dto

import "devscope-relay/internal/domain"

type PublishEnvelopeRequest struct {
	Envelope domain.Envelope `json:"envelope"`
}

type PublishEnvelopeResponse struct {
	Delivered int `json:"delivered"`
}
