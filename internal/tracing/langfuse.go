// Package tracing wires optional Langfuse tracing into every eino model call.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// defaultHost is the self-hosted Langfuse address used when LANGFUSE_HOST is unset.
const defaultHost = "http://localhost:3000"

// Setup builds the Langfuse callback handler when LANGFUSE_PUBLIC_KEY and
// LANGFUSE_SECRET_KEY are both set. The returned flush function must run
// before process exit. ok is false when tracing is not configured.
func Setup() (handler callbacks.Handler, flush func(), ok bool) {
	publicKey := os.Getenv("LANGFUSE_PUBLIC_KEY")
	secretKey := os.Getenv("LANGFUSE_SECRET_KEY")
	if publicKey == "" || secretKey == "" {
		return nil, func() {}, false
	}

	host := os.Getenv("LANGFUSE_HOST")
	if host == "" {
		host = defaultHost
	}

	handler, flush = langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: publicKey,
		SecretKey: secretKey,
		Name:      "docchat",
	})
	return handler, flush, true
}

// Install registers the Langfuse handler globally when configured and returns
// the flush function for deferred shutdown. Without keys it is a no-op.
func Install() (flush func(), enabled bool) {
	handler, flush, ok := Setup()
	if !ok {
		return flush, false
	}
	callbacks.AppendGlobalHandlers(handler)
	return flush, true
}
