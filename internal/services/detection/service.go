package detection

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"kepler-linecount-go/internal/logging"
	"kepler-linecount-go/internal/models"
)

const (
	// ServiceName is the gRPC service the detector exposes
	ServiceName = "kepler.detection.v1.DetectionService"
	inferMethod = "/" + ServiceName + "/InferBatch"

	maxMessageSize = 64 << 20
)

var ErrMalformedResponse = errors.New("malformed detector response")

// Encoder turns a frame into the image bytes sent to the detector
type Encoder func(frame *models.Frame) ([]byte, error)

type Options struct {
	Endpoint string
	TLS      bool
	// Encode defaults to sending Frame.Data untouched
	Encode Encoder
	// Format names the encoding in the request, "jpeg" unless set
	Format      string
	DialOptions []grpc.DialOption
}

// Client calls the external detector/tracker over gRPC. Requests and
// responses are google.protobuf.Struct messages so no generated stubs are
// needed on either side.
type Client struct {
	conn     *grpc.ClientConn
	health   healthpb.HealthClient
	encode   Encoder
	format   string
	endpoint string
	healthy  atomic.Bool
	logger   zerolog.Logger
}

// NewClient creates the connection lazily; the detector does not need to be
// up yet.
func NewClient(opts Options) (*Client, error) {
	logger := logging.NewServiceLogger("detector")

	target, creds, err := parseEndpoint(opts.Endpoint, opts.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to parse detector endpoint %s: %w", opts.Endpoint, err)
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallSendMsgSize(maxMessageSize),
			grpc.MaxCallRecvMsgSize(maxMessageSize),
		),
	}
	dialOpts = append(dialOpts, opts.DialOptions...)

	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to detector at %s: %w", target, err)
	}

	encode := opts.Encode
	if encode == nil {
		encode = func(frame *models.Frame) ([]byte, error) { return frame.Data, nil }
	}
	format := opts.Format
	if format == "" {
		format = "jpeg"
	}

	logger.Info().
		Str("endpoint", opts.Endpoint).
		Str("target", target).
		Bool("use_tls", creds.Info().SecurityProtocol == "tls").
		Msg("Detector gRPC client initialized")

	return &Client{
		conn:     conn,
		health:   healthpb.NewHealthClient(conn),
		encode:   encode,
		format:   format,
		endpoint: target,
		logger:   logger,
	}, nil
}

// DetectBatch sends the whole batch in one call and returns one result per
// frame, in batch order.
func (c *Client) DetectBatch(ctx context.Context, batch models.BatchRequest) ([]models.DetectionResult, error) {
	req, err := c.buildRequest(batch)
	if err != nil {
		return nil, err
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, inferMethod, req, resp); err != nil {
		c.healthy.Store(false)
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	c.healthy.Store(true)

	return parseResponse(resp)
}

func (c *Client) buildRequest(batch models.BatchRequest) (*structpb.Struct, error) {
	frames := make([]interface{}, 0, batch.Len())
	for i, frame := range batch.Frames {
		img, err := c.encode(frame)
		if err != nil {
			return nil, fmt.Errorf("encode frame %d of %s: %w", frame.Sequence, batch.SourceIDs[i], err)
		}
		frames = append(frames, map[string]interface{}{
			"source_id":    batch.SourceIDs[i],
			"address":      batch.Addresses[i],
			"sequence":     frame.Sequence,
			"width":        frame.Width,
			"height":       frame.Height,
			"timestamp_ms": frame.Timestamp.UnixMilli(),
			"format":       c.format,
			"image":        base64.StdEncoding.EncodeToString(img),
		})
	}

	req, err := structpb.NewStruct(map[string]interface{}{
		"batch_id": batch.BatchID,
		"frames":   frames,
	})
	if err != nil {
		return nil, fmt.Errorf("build detector request: %w", err)
	}
	return req, nil
}

// parseResponse reads {"results": [{"detections": [...]}, ...]}. A detection
// without a usable track id or box keeps a nil pointer for that field; the
// counting engine skips it.
func parseResponse(resp *structpb.Struct) ([]models.DetectionResult, error) {
	field, ok := resp.GetFields()["results"]
	if !ok {
		return nil, fmt.Errorf("%w: no results field", ErrMalformedResponse)
	}
	list := field.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%w: results is not a list", ErrMalformedResponse)
	}

	results := make([]models.DetectionResult, len(list.GetValues()))
	for i, v := range list.GetValues() {
		entry := v.GetStructValue()
		if entry == nil {
			continue
		}
		dets := entry.GetFields()["detections"].GetListValue().GetValues()
		results[i].Detections = make([]models.Detection, 0, len(dets))
		for _, d := range dets {
			if s := d.GetStructValue(); s != nil {
				results[i].Detections = append(results[i].Detections, parseDetection(s))
			}
		}
	}
	return results, nil
}

func parseDetection(s *structpb.Struct) models.Detection {
	fields := s.GetFields()
	det := models.Detection{
		Confidence: fields["confidence"].GetNumberValue(),
		Label:      fields["label"].GetStringValue(),
	}

	if v, ok := fields["track_id"]; ok {
		if _, isNum := v.GetKind().(*structpb.Value_NumberValue); isNum {
			id := int64(v.GetNumberValue())
			det.TrackID = &id
		}
	}

	if box := fields["bbox"].GetListValue().GetValues(); len(box) == 4 {
		var bbox [4]float64
		valid := true
		for j, b := range box {
			if _, isNum := b.GetKind().(*structpb.Value_NumberValue); !isNum {
				valid = false
				break
			}
			bbox[j] = b.GetNumberValue()
		}
		if valid {
			det.BBox = &bbox
		}
	}
	return det
}

// HealthCheck asks the standard gRPC health service on the detector
func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		c.healthy.Store(false)
		return fmt.Errorf("detector health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		c.healthy.Store(false)
		return fmt.Errorf("detector not serving: %s", resp.GetStatus())
	}
	c.healthy.Store(true)
	return nil
}

// WaitHealthy runs HealthCheck in the background until it succeeds or ctx
// ends, logging the first failure only.
func (c *Client) WaitHealthy(ctx context.Context, interval time.Duration) {
	go func() {
		warned := false
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.HealthCheck(checkCtx)
			cancel()
			if err == nil {
				c.logger.Info().Str("target", c.endpoint).Msg("Detector health check passed")
				return
			}
			if !warned {
				c.logger.Warn().Err(err).Str("target", c.endpoint).Msg("Detector not ready yet, batches will fail until it is")
				warned = true
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Healthy reports the outcome of the last call or health check
func (c *Client) Healthy() bool {
	return c.healthy.Load()
}

// State returns the connection state name
func (c *Client) State() string {
	return c.conn.GetState().String()
}

// InBadState is true when the channel is failing or closed
func (c *Client) InBadState() bool {
	state := c.conn.GetState()
	return state == connectivity.TransientFailure || state == connectivity.Shutdown
}

func (c *Client) Close() error {
	c.logger.Info().Msg("Closing detector connection")
	return c.conn.Close()
}

// parseEndpoint normalizes host[:port] and http(s):// endpoints. Other gRPC
// target schemes (dns, unix, passthrough) are passed through unchanged.
func parseEndpoint(endpoint string, useTLS bool) (string, credentials.TransportCredentials, error) {
	if endpoint == "" {
		return "", nil, errors.New("empty endpoint")
	}

	if scheme, _, found := strings.Cut(endpoint, "://"); found && scheme != "http" && scheme != "https" {
		return endpoint, transportCredentials(useTLS, ""), nil
	}
	if strings.HasPrefix(endpoint, "unix:") {
		return endpoint, insecure.NewCredentials(), nil
	}

	if !strings.Contains(endpoint, "://") {
		scheme := "http"
		if useTLS {
			scheme = "https"
		} else if _, port, err := splitPort(endpoint); err == nil && (port == 443 || port == 8443 || port == 9443) {
			scheme = "https"
		}
		endpoint = scheme + "://" + endpoint
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", nil, fmt.Errorf("invalid endpoint URL: %w", err)
	}
	if u.Hostname() == "" {
		return "", nil, fmt.Errorf("missing host in %q", endpoint)
	}

	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https":
			host = u.Hostname() + ":443"
		case "http":
			host = u.Hostname() + ":80"
		}
	}

	return host, transportCredentials(u.Scheme == "https", u.Hostname()), nil
}

func splitPort(hostport string) (string, int, error) {
	i := strings.LastIndex(hostport, ":")
	if i < 0 {
		return hostport, 0, errors.New("no port")
	}
	port, err := strconv.Atoi(hostport[i+1:])
	return hostport[:i], port, err
}

func transportCredentials(useTLS bool, serverName string) credentials.TransportCredentials {
	if !useTLS {
		return insecure.NewCredentials()
	}
	return credentials.NewTLS(&tls.Config{ServerName: serverName})
}
