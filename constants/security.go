package constant

// ObfuscatedValue replaces sensitive field values in logs, spans, and
// serialized payloads.
const ObfuscatedValue = "*****"
