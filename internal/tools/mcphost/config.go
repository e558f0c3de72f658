package mcphost

// Transport selects the connection mechanism for an MCP server.
type Transport string

const (
	// TransportStdio spawns a subprocess and communicates over stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP communicates via the MCP Streamable HTTP protocol.
	TransportStreamableHTTP Transport = "streamable-http"
)

// IsValid reports whether t is a recognised transport.
func (t Transport) IsValid() bool {
	return t == TransportStdio || t == TransportStreamableHTTP
}

// ServerConfig describes how to connect to a single MCP server.
type ServerConfig struct {
	// Name identifies the server in logs and errors. Must be unique within a
	// [Host].
	Name string

	// Transport specifies the connection mechanism.
	Transport Transport

	// Command is the executable and its arguments for [TransportStdio].
	Command string

	// URL is the endpoint for [TransportStreamableHTTP].
	URL string

	// Env holds additional environment variables for stdio servers.
	Env map[string]string
}
