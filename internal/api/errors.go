package api

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

// Ingress rejections. Message is the exact text sent to the caller.
var (
	errMissingHeaders = goerrors.New("Missing headers", goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode("MISSING_HEADERS")

	errRateLimited = goerrors.New("Too many requests", goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode("RATE_LIMITED")

	errInvalidSignature = goerrors.New("Invalid signature", goerrors.CategoryAuth).
		WithCode(http.StatusUnauthorized).
		WithTextCode("INVALID_SIGNATURE")

	errInvalidPayload = goerrors.New("Invalid payload", goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode("INVALID_PAYLOAD")

	errPayloadTooLarge = goerrors.New("Payload too large", goerrors.CategoryBadInput).
		WithCode(http.StatusRequestEntityTooLarge).
		WithTextCode("PAYLOAD_TOO_LARGE")

	errUnavailable = goerrors.New("Service unavailable", goerrors.CategoryOperation).
		WithCode(http.StatusServiceUnavailable).
		WithTextCode("DISPATCH_UNAVAILABLE")
)
