package metrics

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	orgsCreated    metric.Int64Counter
	memberInvites  metric.Int64Counter
	quotaDenied    metric.Int64Counter
	accessDecision metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
	if cfg.ExporterEndpoint != "" {
		opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.ExporterEndpoint))
	}
	exporter, err := otlpmetricgrpc.New(context.Background(), opts...)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "opsdash"
	}
	meter := provider.Meter(name)

	orgsCreated, err := meter.Int64Counter("opsdash_organizations_created_total")
	if err != nil {
		return nil, err
	}
	memberInvites, err := meter.Int64Counter("opsdash_member_invites_total")
	if err != nil {
		return nil, err
	}
	quotaDenied, err := meter.Int64Counter("opsdash_quota_denied_total")
	if err != nil {
		return nil, err
	}
	accessDecision, err := meter.Int64Counter("opsdash_access_decisions_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		orgsCreated:    orgsCreated,
		memberInvites:  memberInvites,
		quotaDenied:    quotaDenied,
		accessDecision: accessDecision,
	}, nil
}

// RecordOrganizationCreated increments organization creation counts.
func (m *Metrics) RecordOrganizationCreated(ctx context.Context, planTier string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("org_tier", strings.TrimSpace(planTier)))
	m.orgsCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordMemberInvite increments invite outcome counts.
func (m *Metrics) RecordMemberInvite(ctx context.Context, orgID, result string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("org_id", strings.TrimSpace(orgID)),
		attribute.String("result", strings.TrimSpace(result)),
	)
	m.memberInvites.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordQuotaDenied increments quota denial counts.
func (m *Metrics) RecordQuotaDenied(ctx context.Context, orgID, resource string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("org_id", strings.TrimSpace(orgID)),
		attribute.String("resource", strings.TrimSpace(resource)),
	)
	m.quotaDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAccessDecision increments permission check outcome counts.
func (m *Metrics) RecordAccessDecision(ctx context.Context, orgID, decision string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("org_id", strings.TrimSpace(orgID)),
		attribute.String("decision", strings.TrimSpace(decision)),
	)
	m.accessDecision.Add(ctx, 1, metric.WithAttributes(attrs...))
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"org_id":   {},
	"org_tier": {},
	"result":   {},
	"resource": {},
	"decision": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
