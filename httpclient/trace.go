package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http/httptrace"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Error types reported by ClassifyError.
const (
	ErrorTypeTimeout           = "timeout"
	ErrorTypeConnectionRefused = "connection_refused"
	ErrorTypeDNSError          = "dns_error"
	ErrorTypeTLSError          = "tls_error"
	ErrorTypeCancelled         = "cancelled"
	ErrorTypeConnectionReset   = "connection_reset"
	ErrorTypeEOF               = "eof"
	ErrorTypeMiddleware        = "middleware"
	ErrorTypeRenewLoop         = "renew_loop"
	ErrorTypeUnknown           = "unknown"
)

// ClassifyError returns a low-cardinality label for err, suitable for the
// error.type span attribute and metric labels. Rejected responses are
// classified by their transport error when they carry one.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	var loopErr *RenewLoopError
	if errors.As(err, &loopErr) {
		return ErrorTypeRenewLoop
	}
	var mwErr *MiddlewareError
	if errors.As(err, &mwErr) {
		return ErrorTypeMiddleware
	}

	switch {
	case errors.Is(err, context.Canceled):
		return ErrorTypeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrorTypeConnectionRefused
	case errors.Is(err, syscall.ECONNRESET):
		return ErrorTypeConnectionReset
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return ErrorTypeEOF
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorTypeDNSError
	}
	var recordErr *tls.RecordHeaderError
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &recordErr) || errors.As(err, &certErr) {
		return ErrorTypeTLSError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return ErrorTypeTimeout
	case strings.Contains(msg, "connection refused"):
		return ErrorTypeConnectionRefused
	case strings.Contains(msg, "connection reset"):
		return ErrorTypeConnectionReset
	case strings.Contains(msg, "no such host"):
		return ErrorTypeDNSError
	case strings.Contains(msg, "x509"), strings.Contains(msg, "certificate"):
		return ErrorTypeTLSError
	}
	return ErrorTypeUnknown
}

// connTrace collects httptrace timings for one gateway call.
type connTrace struct {
	dnsStart, dnsDone         time.Time
	connectStart, connectDone time.Time
	tlsStart, tlsDone         time.Time
	gotConn                   time.Time
	wroteRequest              time.Time
	firstByte                 time.Time

	reused     bool
	wasIdle    bool
	remoteAddr string
	tlsVersion string
	dnsAddrs   []string
}

// withConnTrace attaches a client trace to ctx when the span in ctx is
// recording. The returned function adds the collected timings to the span.
func withConnTrace(ctx context.Context) (context.Context, func()) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return ctx, func() {}
	}

	ct := &connTrace{}
	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) { ct.dnsStart = time.Now() },
		DNSDone: func(info httptrace.DNSDoneInfo) {
			ct.dnsDone = time.Now()
			for _, addr := range info.Addrs {
				ct.dnsAddrs = append(ct.dnsAddrs, addr.String())
			}
		},
		ConnectStart:      func(_, _ string) { ct.connectStart = time.Now() },
		ConnectDone:       func(_, _ string, _ error) { ct.connectDone = time.Now() },
		TLSHandshakeStart: func() { ct.tlsStart = time.Now() },
		TLSHandshakeDone: func(state tls.ConnectionState, _ error) {
			ct.tlsDone = time.Now()
			ct.tlsVersion = tls.VersionName(state.Version)
		},
		GotConn: func(info httptrace.GotConnInfo) {
			ct.gotConn = time.Now()
			ct.reused = info.Reused
			ct.wasIdle = info.WasIdle
			if info.Conn != nil && info.Conn.RemoteAddr() != nil {
				ct.remoteAddr = info.Conn.RemoteAddr().String()
			}
		},
		WroteRequest:         func(httptrace.WroteRequestInfo) { ct.wroteRequest = time.Now() },
		GotFirstResponseByte: func() { ct.firstByte = time.Now() },
	})
	return ctx, func() { ct.annotate(span) }
}

func (ct *connTrace) annotate(span trace.Span) {
	if !ct.dnsStart.IsZero() && !ct.dnsDone.IsZero() {
		span.AddEvent("dns.done", trace.WithTimestamp(ct.dnsDone), trace.WithAttributes(
			attribute.Int64("dns.duration_ms", ct.dnsDone.Sub(ct.dnsStart).Milliseconds()),
			attribute.StringSlice("dns.addresses", ct.dnsAddrs),
		))
	}
	if !ct.connectStart.IsZero() && !ct.connectDone.IsZero() {
		span.AddEvent("connect.done", trace.WithTimestamp(ct.connectDone), trace.WithAttributes(
			attribute.Int64("connect.duration_ms", ct.connectDone.Sub(ct.connectStart).Milliseconds()),
		))
	}
	if !ct.tlsStart.IsZero() && !ct.tlsDone.IsZero() {
		span.AddEvent("tls.done", trace.WithTimestamp(ct.tlsDone), trace.WithAttributes(
			attribute.Int64("tls.duration_ms", ct.tlsDone.Sub(ct.tlsStart).Milliseconds()),
			attribute.String("tls.protocol.version", ct.tlsVersion),
		))
	}
	if !ct.gotConn.IsZero() {
		span.AddEvent("got_conn", trace.WithTimestamp(ct.gotConn), trace.WithAttributes(
			attribute.Bool("connection.reused", ct.reused),
			attribute.Bool("connection.was_idle", ct.wasIdle),
			attribute.String("network.peer.address", ct.remoteAddr),
		))
	}
	if !ct.firstByte.IsZero() && !ct.wroteRequest.IsZero() {
		span.AddEvent("got_first_response_byte", trace.WithTimestamp(ct.firstByte), trace.WithAttributes(
			attribute.Int64("ttfb_ms", ct.firstByte.Sub(ct.wroteRequest).Milliseconds()),
		))
	}
}
