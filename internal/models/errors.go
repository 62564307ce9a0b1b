package models

import "errors"

// Stage failures. None of them stops a run.
var (
	ErrDiscoveryFailed     = errors.New("discovery failed")
	ErrDetailFetchFailed   = errors.New("detail fetch failed")
	ErrImageDownloadFailed = errors.New("image download failed")
	ErrSummaryFailed       = errors.New("summary failed")
)

// Remote capability failures, wrapped together with a stage failure.
var (
	ErrRateLimited     = errors.New("rate limited")
	ErrServerError     = errors.New("server error")
	ErrInvalidResponse = errors.New("invalid response")
)
