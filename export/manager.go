package export

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/eryajf/promwrite"
	"go.uber.org/zap"
)

// Config defines where and how counter samples are published
type Config struct {
	// Service identification
	Namespace   string
	Subsystem   string
	ServiceName string

	// Remote write configuration
	RemoteWriteURL      string
	RemoteWriteInterval time.Duration
	RemoteWriteTimeout  time.Duration

	// Instance information
	InstanceIP   string
	CustomLabels map[string]string

	// Optional logger
	Logger *zap.Logger

	// DNS resolution of the remote write host (optional)
	DNSEnable          bool
	DNSCacheTTL        time.Duration
	DNSRefreshInterval time.Duration
	DNSTimeout         time.Duration
	DNSUDPServers      []string // e.g. ["1.1.1.1:53", "8.8.8.8:53"]
	DNSTLSServers      []string // e.g. ["1.1.1.1:853"]
	DNSDoHEndpoints    []string // e.g. ["https://cloudflare-dns.com/dns-query"]
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Namespace:           "counter",
		Subsystem:           "bench",
		ServiceName:         "counterbench",
		RemoteWriteInterval: 15 * time.Second,
		RemoteWriteTimeout:  15 * time.Second,
		CustomLabels:        make(map[string]string),
	}
}

// Manager gathers samples from its collectors and pushes them to a
// Prometheus remote write endpoint.
type Manager interface {
	Start() error
	Stop()
	RegisterCollector(collector Collector)
	GetMetrics() []Metric
	WriteNow(ctx context.Context) error
}

// Collector provides a batch of samples each time it is asked
type Collector interface {
	Collect() []Metric
	Name() string
}

// Metric is a single sample
type Metric struct {
	Name       string
	Value      float64
	Labels     map[string]string
	MetricType MetricType
	Timestamp  time.Time
}

// MetricType is the Prometheus type of a sample
type MetricType int

const (
	Counter MetricType = iota
	Gauge
)

func (t MetricType) String() string {
	if t == Gauge {
		return "gauge"
	}
	return "counter"
}

type manager struct {
	config     Config
	logger     *zap.Logger
	collectors []Collector
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	mutex    sync.RWMutex
	client   *promwrite.Client
	resolver *resolver
}

// NewManager creates a manager. ServiceName is required; InstanceIP falls
// back to the outbound address, then to the host name.
func NewManager(config Config) (Manager, error) {
	if config.ServiceName == "" {
		return nil, fmt.Errorf("service name cannot be empty")
	}
	if config.InstanceIP == "" {
		ip, err := GetOutboundIPv4()
		if err != nil {
			host, herr := os.Hostname()
			if herr != nil {
				return nil, fmt.Errorf("failed to identify instance: %w", err)
			}
			ip = host
		}
		config.InstanceIP = ip
	}
	config.RemoteWriteInterval = pickDuration(config.RemoteWriteInterval, 15*time.Second)
	config.RemoteWriteTimeout = pickDuration(config.RemoteWriteTimeout, 15*time.Second)

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &manager{
		config: config,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	if config.RemoteWriteURL != "" {
		u, err := url.Parse(config.RemoteWriteURL)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("invalid remote write url: %w", err)
		}
		m.client = promwrite.NewClient(config.RemoteWriteURL)
		m.resolver = newResolver(u.Hostname(), resolverConfig{
			enabled:         config.DNSEnable,
			cacheTTL:        pickDuration(config.DNSCacheTTL, 10*time.Minute),
			refreshInterval: pickDuration(config.DNSRefreshInterval, 5*time.Minute),
			timeout:         pickDuration(config.DNSTimeout, 800*time.Millisecond),
			udpServers:      append([]string(nil), config.DNSUDPServers...),
			tlsServers:      append([]string(nil), config.DNSTLSServers...),
			dohEndpoints:    append([]string(nil), config.DNSDoHEndpoints...),
		}, logger)
	}
	return m, nil
}

func pickDuration(v time.Duration, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// RegisterCollector implements Manager interface
func (m *manager) RegisterCollector(collector Collector) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.collectors = append(m.collectors, collector)

	m.logger.Debug("Registered collector", zap.String("collector", collector.Name()))
}

// Start implements Manager interface
func (m *manager) Start() error {
	if m.client == nil {
		m.logger.Warn("Starting exporter without remote write URL")
		return nil
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.RemoteWriteInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := m.WriteNow(m.ctx); err != nil {
					m.logger.Error("Failed to write samples", zap.Error(err))
				}
			case <-m.ctx.Done():
				return
			}
		}
	}()

	if m.resolver.periodic() {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ticker := time.NewTicker(m.resolver.cfg.refreshInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					m.refresh(false)
				case <-m.ctx.Done():
					return
				}
			}
		}()
	}
	return nil
}

// Stop implements Manager interface
func (m *manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

// GetMetrics implements Manager interface
func (m *manager) GetMetrics() []Metric {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var metrics []Metric
	for _, collector := range m.collectors {
		metrics = append(metrics, collector.Collect()...)
	}
	return metrics
}

// WriteNow collects every sample and sends it in one remote write request.
// A failed write triggers one forced DNS refresh and a retry.
func (m *manager) WriteNow(ctx context.Context) error {
	client := m.currentClient()
	if client == nil {
		return fmt.Errorf("no remote write client configured")
	}

	metrics := m.GetMetrics()
	if len(metrics) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.RemoteWriteTimeout)
	defer cancel()

	req := &promwrite.WriteRequest{TimeSeries: m.toTimeSeries(metrics)}
	if _, err := client.Write(ctx, req); err != nil {
		if !m.refresh(true) {
			return fmt.Errorf("writing time series failed: %w", err)
		}
		if _, err := m.currentClient().Write(ctx, req); err != nil {
			return fmt.Errorf("writing time series failed after dns refresh: %w", err)
		}
	}

	m.logger.Debug("Wrote samples", zap.Int("series", len(req.TimeSeries)))
	return nil
}

func (m *manager) currentClient() *promwrite.Client {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.client
}

// refresh re-resolves the remote write host and rebuilds the client so new
// connections go to the new addresses.
func (m *manager) refresh(force bool) bool {
	if m.resolver == nil || !m.resolver.refresh(m.ctx, force) {
		return false
	}
	m.mutex.Lock()
	m.client = promwrite.NewClient(m.config.RemoteWriteURL)
	m.mutex.Unlock()
	m.logger.Info("Rebuilt remote write client after DNS update",
		zap.String("host", m.resolver.host), zap.Strings("ips", m.resolver.addresses()))
	return true
}

// toTimeSeries attaches the instance labels to every sample. Label names
// are unique and sorted, as remote write requires.
func (m *manager) toTimeSeries(metrics []Metric) []promwrite.TimeSeries {
	prefix := m.config.Namespace
	if m.config.Subsystem != "" {
		prefix += "_" + m.config.Subsystem
	}

	result := make([]promwrite.TimeSeries, 0, len(metrics))
	for _, metric := range metrics {
		name := metric.Name
		if prefix != "" {
			name = prefix + "_" + metric.Name
		}

		// Metric labels override custom ones; reserved names override both.
		set := make(map[string]string, 3+len(m.config.CustomLabels)+len(metric.Labels))
		for k, v := range m.config.CustomLabels {
			set[k] = v
		}
		for k, v := range metric.Labels {
			set[k] = v
		}
		set["__name__"] = name
		set["instance"] = m.config.InstanceIP
		set["service"] = m.config.ServiceName

		labels := make([]promwrite.Label, 0, len(set))
		for k, v := range set {
			labels = append(labels, promwrite.Label{Name: k, Value: v})
		}
		sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })

		ts := metric.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		result = append(result, promwrite.TimeSeries{
			Labels: labels,
			Sample: promwrite.Sample{Time: ts, Value: metric.Value},
		})
	}
	return result
}

// GetOutboundIPv4 returns the local address used to reach the internet.
// No packet is sent.
func GetOutboundIPv4() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}
