package cctx

type ContextKey string

var (
	DispatcherID ContextKey = "vx:did"
)
