package api

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ==========================
// Per-IP request sequencing
// ==========================

// RequestKind separates cheap lookups from requests that stream or write a
// lot of data.
type RequestKind int

const (
	// RequestGeneral requests from one IP run one at a time.
	RequestGeneral RequestKind = iota
	// RequestHeavy requests additionally wait out the cooldown that follows
	// the previous heavy request from the same IP: archive downloads and
	// uploads that run a full import.
	RequestHeavy
)

// ErrQueueFull is returned when an IP already has queueDepth requests waiting.
var ErrQueueFull = errors.New("too many queued requests")

// queueDepth bounds how many requests one IP may have waiting.
const queueDepth = 16

// RateLimiter hands out per-IP permits. A dispatcher goroutine owns the map
// of IP queues and every IP gets a worker goroutine that serves its queue in
// order, so no mutex guards the bookkeeping.
type RateLimiter struct {
	heavyCooldown time.Duration
	idleAfter     time.Duration
	requests      chan keyedRequest
	idle          chan idleNotice
	now           func() time.Time
}

type keyedRequest struct {
	ip  string
	req ipRequest
}

type ipRequest struct {
	ctx      context.Context
	kind     RequestKind
	arrived  time.Time
	response chan acquireResponse
}

type acquireResponse struct {
	release chan struct{}
	waited  time.Duration
	err     error
}

// idleNotice is a worker asking to retire. The dispatcher agrees only when
// nothing is queued for that IP.
type idleNotice struct {
	ip  string
	ack chan bool
}

// Permit is an acquired slot. Release it when the handler is done.
type Permit struct {
	release chan struct{}
	// Waited is how long the request sat in the queue and the cooldown.
	Waited time.Duration
}

// Release lets the next queued request for the IP proceed. Extra calls are no-ops.
func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	close(p.release)
	p.release = nil
}

// NewRateLimiter starts the dispatcher. Workers for quiet IPs retire a
// minute after their cooldown has passed.
func NewRateLimiter(heavyCooldown time.Duration) *RateLimiter {
	if heavyCooldown < 0 {
		heavyCooldown = 0
	}
	l := &RateLimiter{
		heavyCooldown: heavyCooldown,
		idleAfter:     heavyCooldown + time.Minute,
		requests:      make(chan keyedRequest),
		idle:          make(chan idleNotice),
		now:           time.Now,
	}
	go l.loop()
	return l
}

// Acquire waits for a slot for ip. A nil limiter grants nothing and never
// blocks.
func (l *RateLimiter) Acquire(ctx context.Context, ip string, kind RequestKind) (*Permit, error) {
	if l == nil {
		return nil, nil
	}
	respCh := make(chan acquireResponse, 1)
	req := ipRequest{ctx: ctx, kind: kind, arrived: l.now(), response: respCh}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case l.requests <- keyedRequest{ip: ip, req: req}:
	}

	select {
	case <-ctx.Done():
		// Every queued request gets exactly one answer. A permit granted
		// after we stopped listening must still be handed back.
		go func() {
			if resp := <-respCh; resp.release != nil {
				close(resp.release)
			}
		}()
		return nil, ctx.Err()
	case resp := <-respCh:
		if resp.err != nil {
			return nil, resp.err
		}
		return &Permit{release: resp.release, Waited: resp.waited}, nil
	}
}

// Limit wraps next so it only runs while holding a permit of the given kind.
// Requests whose client leaves while queued get 503; a full queue gets 429.
func (l *RateLimiter) Limit(kind RequestKind, next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		permit, err := l.Acquire(r.Context(), ClientIP(r), kind)
		if err != nil {
			if errors.Is(err, ErrQueueFull) {
				w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter()))
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}
			http.Error(w, "request cancelled while queued", http.StatusServiceUnavailable)
			return
		}
		defer permit.Release()
		if permit.Waited >= time.Millisecond {
			w.Header().Set("X-Queue-Wait", permit.Waited.Round(time.Millisecond).String())
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) retryAfter() int {
	if s := int(math.Ceil(l.heavyCooldown.Seconds())); s > 1 {
		return s
	}
	return 1
}

func (l *RateLimiter) loop() {
	queues := make(map[string]chan ipRequest)
	for {
		select {
		case keyed := <-l.requests:
			q, ok := queues[keyed.ip]
			if !ok {
				q = make(chan ipRequest, queueDepth)
				queues[keyed.ip] = q
				go l.runIPWorker(keyed.ip, q)
			}
			select {
			case q <- keyed.req:
			default:
				keyed.req.response <- acquireResponse{err: ErrQueueFull}
			}
		case n := <-l.idle:
			if q := queues[n.ip]; len(q) == 0 {
				delete(queues, n.ip)
				n.ack <- true
			} else {
				n.ack <- false
			}
		}
	}
}

func (l *RateLimiter) runIPWorker(ip string, queue <-chan ipRequest) {
	var lastHeavyFinish time.Time
	idle := time.NewTimer(l.idleAfter)
	defer idle.Stop()

	for {
		select {
		case req := <-queue:
			l.serve(req, &lastHeavyFinish)
			idle.Reset(l.idleAfter)
		case <-idle.C:
			ack := make(chan bool, 1)
			l.idle <- idleNotice{ip: ip, ack: ack}
			if <-ack {
				return
			}
			idle.Reset(l.idleAfter)
		}
	}
}

// serve answers one request and, once it holds a permit, blocks until the
// permit is released.
func (l *RateLimiter) serve(req ipRequest, lastHeavyFinish *time.Time) {
	if err := req.ctx.Err(); err != nil {
		req.response <- acquireResponse{err: err}
		return
	}

	if req.kind == RequestHeavy && !lastHeavyFinish.IsZero() {
		if wait := lastHeavyFinish.Add(l.heavyCooldown).Sub(l.now()); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-req.ctx.Done():
				timer.Stop()
				req.response <- acquireResponse{err: req.ctx.Err()}
				return
			case <-timer.C:
			}
		}
	}

	waited := l.now().Sub(req.arrived)
	if waited < 0 {
		waited = 0
	}
	release := make(chan struct{})
	req.response <- acquireResponse{release: release, waited: waited}
	<-release

	if req.kind == RequestHeavy {
		*lastHeavyFinish = l.now()
	}
}

// ClientIP prefers the first X-Forwarded-For hop and falls back to the
// remote address without its port.
func ClientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		if first := strings.TrimSpace(strings.Split(forwarded, ",")[0]); first != "" {
			return first
		}
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	return addr
}
