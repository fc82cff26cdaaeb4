package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"

	"github.com/wattcode/plant-monitor/internal/config"
	"github.com/wattcode/plant-monitor/internal/telemetry"
)

func TestSQLite_PushNoDedup(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "store.db"), discardLogger(), false)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	first, err := s.Push(ctx, "/greenhouse/data_v2", []byte(testBody))
	require.NoError(t, err)
	second, err := s.Push(ctx, "/greenhouse/data_v2", []byte(testBody))
	require.NoError(t, err)

	assert.NotEqual(t, first.Name, second.Name)
	assert.Equal(t, first.ETag, second.ETag)
	assert.Equal(t, "/greenhouse/data_v2", first.Path)

	n, err := s.Count(ctx, "/greenhouse/data_v2")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

type publishCall struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	calls []publishCall
	err   error
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload []byte) error {
	p.calls = append(p.calls, publishCall{topic, qos, retained, payload})
	return p.err
}

func TestMQTT_Push(t *testing.T) {
	pub := &fakePublisher{}
	m := NewMQTT(pub, discardLogger())

	res, err := m.Push(context.Background(), "/greenhouse/data_v2", []byte(testBody))
	require.NoError(t, err)
	_, err = m.Push(context.Background(), "/greenhouse/data_v2", []byte(testBody))
	require.NoError(t, err)

	require.Len(t, pub.calls, 2)
	assert.Equal(t, "greenhouse/data_v2", pub.calls[0].topic)
	assert.Equal(t, byte(1), pub.calls[0].qos)
	assert.False(t, pub.calls[0].retained)
	assert.Equal(t, testBody, string(pub.calls[0].payload))
	assert.NotEmpty(t, res.Name)
	assert.Equal(t, etag([]byte(testBody)), res.ETag)
}

func TestMQTT_PushError(t *testing.T) {
	m := NewMQTT(&fakePublisher{err: errors.New("mqtt client not connected")}, discardLogger())

	_, err := m.Push(context.Background(), "/greenhouse/data_v2", []byte(testBody))
	require.ErrorIs(t, err, ErrPush)
	assert.Contains(t, err.Error(), "not connected")
}

type fakeKafkaWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafka_Push(t *testing.T) {
	w := &fakeKafkaWriter{}
	k := &Kafka{writer: w, logger: discardLogger()}

	res, err := k.Push(context.Background(), "/greenhouse/data_v2", []byte(testBody))
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "greenhouse.data_v2", w.msgs[0].Topic)
	assert.Equal(t, res.Name, string(w.msgs[0].Key))
	assert.Equal(t, testBody, string(w.msgs[0].Value))

	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}

func TestNewKafka_RequiresBroker(t *testing.T) {
	_, err := NewKafka(nil, discardLogger())
	assert.Error(t, err)
}

type fakeAdvertiser struct {
	opts    []bluetooth.AdvertisementOptions
	started int
	stopped int
}

func (a *fakeAdvertiser) Configure(o bluetooth.AdvertisementOptions) error {
	a.opts = append(a.opts, o)
	return nil
}

func (a *fakeAdvertiser) Start() error {
	a.started++
	return nil
}

func (a *fakeAdvertiser) Stop() error {
	a.stopped++
	return nil
}

func TestBLE_Push(t *testing.T) {
	adv := &fakeAdvertiser{}
	b := newBLE("greenhouse", adv, time.Millisecond, discardLogger())

	_, err := b.Push(context.Background(), "/greenhouse/data_v2", []byte(testBody))
	require.NoError(t, err)

	assert.Equal(t, 1, adv.started)
	assert.Equal(t, 1, adv.stopped)
	require.Len(t, adv.opts, 1)
	assert.Equal(t, "greenhouse", adv.opts[0].LocalName)
	require.Len(t, adv.opts[0].ManufacturerData, 1)

	got, err := DecodeBLEPayload(adv.opts[0].ManufacturerData[0].Data)
	require.NoError(t, err)
	assert.Equal(t, telemetry.New(1700000000, 21.5, 44.0, 3300), got)
}

func TestBLE_PushRejectsNonRecord(t *testing.T) {
	b := newBLE("greenhouse", &fakeAdvertiser{}, time.Millisecond, discardLogger())

	_, err := b.Push(context.Background(), "/greenhouse/data_v2", []byte(`not json`))
	assert.ErrorIs(t, err, ErrPush)
}

func TestEncodeBLEPayload_Range(t *testing.T) {
	_, err := EncodeBLEPayload(telemetry.New(-1, 0, 0, 0))
	assert.Error(t, err)
	_, err = EncodeBLEPayload(telemetry.New(0, 0, 0, 70000))
	assert.Error(t, err)

	_, err = DecodeBLEPayload([]byte{0x02, 0xD0})
	assert.Error(t, err)
}

func TestOpen_UnknownAndMissingPublisher(t *testing.T) {
	_, err := Open(context.Background(), config.Config{StoreDriver: "carrier-pigeon"}, discardLogger(), nil)
	assert.Error(t, err)

	_, err = Open(context.Background(), config.Config{StoreDriver: "mqtt"}, discardLogger(), nil)
	assert.Error(t, err)

	p, err := Open(context.Background(), config.Config{StoreDriver: "mqtt"}, discardLogger(), &fakePublisher{})
	require.NoError(t, err)
	assert.IsType(t, &MQTT{}, p)
}
