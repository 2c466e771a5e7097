package authcore

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type clientDeviceContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses
// it for rate limiting, audit logging, and device risk scoring.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx. It feeds the
// device fingerprint and the session binding hashes.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithClientDeviceID attaches the opaque client-generated device
// identifier to ctx. Without it, device trust evaluation is skipped and
// sessions are issued unbound to a device.
func WithClientDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, clientDeviceContextKey{}, deviceID)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}

func clientDeviceFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	deviceID, _ := ctx.Value(clientDeviceContextKey{}).(string)
	return deviceID
}
