package dynamo

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/vistream/transform/calibration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDDBClient is an in-memory DynamoDB table keyed by (baseline, start).
type fakeDDBClient struct {
	mu      sync.Mutex
	items   map[string][]map[string]types.AttributeValue
	queries int
	pages   int
	err     error
}

func newFakeDDBClient() *fakeDDBClient {
	return &fakeDDBClient{items: make(map[string][]map[string]types.AttributeValue)}
}

func startOf(item map[string]types.AttributeValue) float64 {
	v, _ := strconv.ParseFloat(item[attrStart].(*types.AttributeValueMemberN).Value, 64)
	return v
}

func (m *fakeDDBClient) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bl := params.Item[attrBaseline].(*types.AttributeValueMemberS).Value
	m.items[bl] = append(m.items[bl], params.Item)
	sort.Slice(m.items[bl], func(i, j int) bool { return startOf(m.items[bl][i]) < startOf(m.items[bl][j]) })
	return &dynamodb.PutItemOutput{}, nil
}

func (m *fakeDDBClient) Query(_ context.Context, params *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages++
	if params.ExclusiveStartKey == nil {
		m.queries++
	}
	if m.err != nil {
		return nil, m.err
	}

	bl := params.ExpressionAttributeValues[":bl"].(*types.AttributeValueMemberS).Value
	items := m.items[bl]

	from := 0
	if params.ExclusiveStartKey != nil {
		after := startOf(params.ExclusiveStartKey)
		for from < len(items) && startOf(items[from]) <= after {
			from++
		}
	}
	to := len(items)
	if params.Limit != nil && from+int(*params.Limit) < to {
		to = from + int(*params.Limit)
	}

	out := &dynamodb.QueryOutput{Items: items[from:to]}
	if to < len(items) {
		last := items[to-1]
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			attrBaseline: last[attrBaseline],
			attrStart:    last[attrStart],
		}
	}
	return out, nil
}

func TestSource_PutAndLookup(t *testing.T) {
	ctx := context.Background()
	ddb := newFakeDDBClient()
	src := New(ddb, "cal")

	require.NoError(t, src.Put(ctx, calibration.Solution{
		Baseline: calibration.Baseline{Antenna1: 0, Antenna2: 1}, Start: 0, End: 10, Factor: 2 + 1i,
	}))
	require.NoError(t, src.Put(ctx, calibration.Solution{
		Baseline: calibration.Baseline{Antenna1: 0, Antenna2: 1}, Start: 10, End: 20,
		FreqMin: 1e9, FreqMax: 2e9, Factor: 3,
	}))

	f, ok, err := src.Lookup(ctx, calibration.Baseline{Antenna1: 0, Antenna2: 1}, 5, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, complex64(2+1i), f)

	f, ok, err = src.Lookup(ctx, calibration.Baseline{Antenna1: 1, Antenna2: 0}, 5, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, complex64(2-1i), f, "reversed baseline is conjugated")

	_, ok, err = src.Lookup(ctx, calibration.Baseline{Antenna1: 0, Antenna2: 1}, 15, 3e9)
	require.NoError(t, err)
	assert.False(t, ok, "outside frequency range")

	assert.Equal(t, 1, ddb.queries, "solutions are cached per baseline")
	hits, misses := src.CacheStats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
}

func TestSource_Pagination(t *testing.T) {
	ctx := context.Background()
	ddb := newFakeDDBClient()
	src := New(ddb, "cal", WithPageSize(2))

	for i := range 5 {
		require.NoError(t, src.Put(ctx, calibration.Solution{
			Baseline: calibration.Baseline{Antenna1: 2, Antenna2: 3},
			Start:    float64(i * 10), End: float64(i*10 + 10), Factor: complex(float32(i), 0),
		}))
	}

	sols, err := src.Solutions(ctx, calibration.Baseline{Antenna1: 2, Antenna2: 3})
	require.NoError(t, err)
	require.Len(t, sols, 5)
	assert.Equal(t, 3, ddb.pages)
	for i, s := range sols {
		assert.Equal(t, float64(i*10), s.Start)
	}
}

func TestSource_PutInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	ddb := newFakeDDBClient()
	src := New(ddb, "cal")
	bl := calibration.Baseline{Antenna1: 0, Antenna2: 1}

	_, ok, err := src.Lookup(ctx, bl, 5, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, src.Put(ctx, calibration.Solution{Baseline: bl, Start: 0, End: 10, Factor: 1}))
	_, ok, err = src.Lookup(ctx, bl, 5, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, ddb.queries)
}

func TestSource_Errors(t *testing.T) {
	ctx := context.Background()
	ddb := newFakeDDBClient()
	ddb.err = errors.New("throttled")
	src := New(ddb, "cal")

	_, _, err := src.Lookup(ctx, calibration.Baseline{Antenna1: 0, Antenna2: 1}, 0, 0)
	assert.ErrorIs(t, err, ddb.err)

	ddb.err = nil
	ddb.items["0-1"] = []map[string]types.AttributeValue{{
		attrBaseline: &types.AttributeValueMemberS{Value: "0-1"},
		attrStart:    &types.AttributeValueMemberN{Value: "0"},
		attrEnd:      &types.AttributeValueMemberS{Value: "soon"},
	}}
	_, _, err = src.Lookup(ctx, calibration.Baseline{Antenna1: 0, Antenna2: 1}, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidItem)
}

func TestSource_ImplementsCalibrationSource(t *testing.T) {
	var _ calibration.Source = New(newFakeDDBClient(), "cal")
}
