package aws

import (
	"context"
	"errors"
	"testing"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSNS struct {
	inputs []*sns.PublishInput
	err    error
}

func (f *fakeSNS) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.inputs = append(f.inputs, in)
	return &sns.PublishOutput{}, f.err
}

func TestSNSClient_PublishStandardTopic(t *testing.T) {
	api := &fakeSNS{}
	c := NewSNSClientWithAPI(api)

	err := c.Publish(context.Background(), "arn:aws:sns:us-east-1:000000000000:conversions",
		[]byte(`{"order_id":"1"}`), map[string]string{"type": "conversion.attributed", GroupAttribute: "abc123"})
	require.NoError(t, err)
	require.Len(t, api.inputs, 1)

	in := api.inputs[0]
	assert.Equal(t, `{"order_id":"1"}`, sdkaws.ToString(in.Message))
	assert.Equal(t, "conversion.attributed", sdkaws.ToString(in.MessageAttributes["type"].StringValue))
	assert.Nil(t, in.MessageGroupId)
	assert.Nil(t, in.MessageDeduplicationId)
}

func TestSNSClient_PublishFIFOTopic(t *testing.T) {
	api := &fakeSNS{}
	c := NewSNSClientWithAPI(api)
	topic := "arn:aws:sns:us-east-1:000000000000:conversions.fifo"

	require.NoError(t, c.Publish(context.Background(), topic, []byte("a"), map[string]string{GroupAttribute: "abc123"}))
	require.NoError(t, c.Publish(context.Background(), topic, []byte("a"), nil))

	assert.Equal(t, "abc123", sdkaws.ToString(api.inputs[0].MessageGroupId))
	assert.Equal(t, "default", sdkaws.ToString(api.inputs[1].MessageGroupId))
	assert.Equal(t, sdkaws.ToString(api.inputs[0].MessageDeduplicationId), sdkaws.ToString(api.inputs[1].MessageDeduplicationId))
}

func TestSNSClient_Errors(t *testing.T) {
	api := &fakeSNS{err: errors.New("AuthorizationError")}
	c := NewSNSClientWithAPI(api)

	assert.ErrorContains(t, c.Publish(context.Background(), "", []byte("a"), nil), "empty topicArn")
	assert.Empty(t, api.inputs)
	assert.ErrorContains(t, c.Publish(context.Background(), "arn:x", []byte("a"), nil), "AuthorizationError")
}
