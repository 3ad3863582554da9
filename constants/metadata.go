package constant

const (
	// MetadataID is the metadata key that carries the request context identifier.
	MetadataID = "metadata_id"
	// MetadataTraceparent is the metadata key for W3C traceparent.
	MetadataTraceparent = "traceparent"
	// MetadataTracestate is the metadata key for W3C tracestate.
	MetadataTracestate = "tracestate"
	// MetadataAuthorization is the metadata key for authorization propagation.
	MetadataAuthorization = "authorization"
)
