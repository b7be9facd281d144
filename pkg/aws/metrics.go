package aws

import (
	"context"
	"fmt"
	"sort"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

const (
	// HTTP metrics
	MetricHTTPRequests = "HTTPRequests"
	MetricHTTPErrors   = "HTTPErrors"
	MetricHTTPLatency  = "HTTPLatency"

	// Webhook delivery outcomes
	MetricWebhookCommitted  = "WebhookCommitted"
	MetricWebhookDuplicate  = "WebhookDuplicate"
	MetricWebhookSkipped    = "WebhookSkipped"
	MetricWebhookRejected   = "WebhookRejected"
	MetricWebhookFailed     = "WebhookFailed"
	MetricWebhookLatency    = "WebhookProcessingLatency"
	MetricConversionsCount  = "ConversionsAttributed"
	MetricConversionsAmount = "ConversionsAttributedAmount"

	// Housekeeping
	MetricLedgerPruned  = "IdempotencyKeysPruned"
	MetricClicksEvicted = "ClicksEvicted"
)

// CloudWatchAPI is the slice of the CloudWatch client the metrics client needs.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Datum is one data point sent by PutMetrics.
type Datum struct {
	Name  string
	Value float64
	Unit  types.StandardUnit
}

func Count(name string) Datum {
	return Datum{Name: name, Value: 1, Unit: types.StandardUnitCount}
}

func Latency(name string, d time.Duration) Datum {
	return Datum{Name: name, Value: float64(d.Milliseconds()), Unit: types.StandardUnitMilliseconds}
}

// MetricsClient publishes CloudWatch metrics. A nil client is valid and disabled.
type MetricsClient struct {
	api       CloudWatchAPI
	namespace string
	enabled   bool
	now       func() time.Time
}

func NewMetricsClient(cfg sdkaws.Config, namespace string, enabled bool) *MetricsClient {
	return NewMetricsClientWithAPI(cloudwatch.NewFromConfig(cfg), namespace, enabled)
}

func NewMetricsClientWithAPI(api CloudWatchAPI, namespace string, enabled bool) *MetricsClient {
	if namespace == "" {
		namespace = "Affilync/Attribution"
	}
	return &MetricsClient{api: api, namespace: namespace, enabled: enabled, now: time.Now}
}

// PutMetrics sends every datum in one PutMetricData call, all sharing dimensions.
func (m *MetricsClient) PutMetrics(ctx context.Context, dimensions map[string]string, data ...Datum) error {
	if !m.IsEnabled() || len(data) == 0 {
		return nil
	}

	names := make([]string, 0, len(dimensions))
	for k := range dimensions {
		names = append(names, k)
	}
	sort.Strings(names)
	dims := make([]types.Dimension, 0, len(names))
	for _, k := range names {
		dims = append(dims, types.Dimension{Name: sdkaws.String(k), Value: sdkaws.String(dimensions[k])})
	}

	ts := m.now()
	datums := make([]types.MetricDatum, 0, len(data))
	for _, d := range data {
		datums = append(datums, types.MetricDatum{
			MetricName: sdkaws.String(d.Name),
			Value:      sdkaws.Float64(d.Value),
			Unit:       d.Unit,
			Timestamp:  sdkaws.Time(ts),
			Dimensions: dims,
		})
	}

	if _, err := m.api.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  sdkaws.String(m.namespace),
		MetricData: datums,
	}); err != nil {
		return fmt.Errorf("failed to put %d metrics: %w", len(datums), err)
	}
	return nil
}

func (m *MetricsClient) RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error {
	return m.PutMetrics(ctx, dimensions, Count(metricName))
}

func (m *MetricsClient) RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error {
	return m.PutMetrics(ctx, dimensions, Latency(metricName, duration))
}

func (m *MetricsClient) RecordValue(ctx context.Context, metricName string, value float64, dimensions map[string]string) error {
	return m.PutMetrics(ctx, dimensions, Datum{Name: metricName, Value: value, Unit: types.StandardUnitNone})
}

func (m *MetricsClient) IsEnabled() bool {
	return m != nil && m.enabled
}
