package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/vistream/internal/cache"
	"github.com/hupe1980/vistream/transform/calibration"
)

// Client is the subset of the DynamoDB API used by Source.
type Client interface {
	dynamodb.QueryAPIClient
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// ErrInvalidItem is returned when an item does not match the table schema.
var ErrInvalidItem = errors.New("invalid calibration item")

const (
	attrBaseline = "baseline"
	attrStart    = "start"
	attrEnd      = "end"
	attrFreqMin  = "freq_min"
	attrFreqMax  = "freq_max"
	attrRe       = "re"
	attrIm       = "im"
)

// Source looks up baseline solutions in DynamoDB.
type Source struct {
	client    Client
	tableName string
	pageSize  int32
	cache     *cache.LRU[calibration.Baseline, []calibration.Solution]
}

// Option configures a Source.
type Option func(*Source)

// WithCacheSize bounds the number of cached solutions (default 65536).
func WithCacheSize(n int64) Option {
	return func(s *Source) {
		s.cache = newCache(n)
	}
}

// WithPageSize sets the Query page size (default: service maximum).
func WithPageSize(n int32) Option {
	return func(s *Source) {
		s.pageSize = n
	}
}

func newCache(n int64) *cache.LRU[calibration.Baseline, []calibration.Solution] {
	return cache.NewLRU[calibration.Baseline, []calibration.Solution](n, func(v []calibration.Solution) int64 {
		return int64(len(v)) + 1
	}, nil)
}

// New creates a Source reading tableName.
func New(client Client, tableName string, opts ...Option) *Source {
	s := &Source{
		client:    client,
		tableName: tableName,
		cache:     newCache(1 << 16),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Lookup implements calibration.Source.
func (s *Source) Lookup(ctx context.Context, bl calibration.Baseline, time, freq float64) (complex64, bool, error) {
	bl, swapped := bl.Canonical()
	sols, err := s.Solutions(ctx, bl)
	if err != nil {
		return 0, false, err
	}
	f, ok := calibration.Resolve(sols, swapped, time, freq)
	return f, ok, nil
}

// Solutions returns the solutions of the canonical baseline bl, ordered by
// start time.
func (s *Source) Solutions(ctx context.Context, bl calibration.Baseline) ([]calibration.Solution, error) {
	if sols, ok := s.cache.Get(bl); ok {
		return sols, nil
	}

	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("#bl = :bl"),
		ExpressionAttributeNames: map[string]string{
			"#bl": attrBaseline,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":bl": &types.AttributeValueMemberS{Value: bl.String()},
		},
		ScanIndexForward: aws.Bool(true),
	}
	if s.pageSize > 0 {
		input.Limit = aws.Int32(s.pageSize)
	}

	var sols []calibration.Solution
	p := dynamodb.NewQueryPaginator(s.client, input)
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query DynamoDB: %w", err)
		}
		for _, item := range out.Items {
			sol, err := decodeItem(bl, item)
			if err != nil {
				return nil, err
			}
			sols = append(sols, sol)
		}
	}

	s.cache.Set(bl, sols)
	return sols, nil
}

// Put stores a solution and drops the cached solutions of its baseline.
func (s *Source) Put(ctx context.Context, sol calibration.Solution) error {
	bl, swapped := sol.Baseline.Canonical()
	f := sol.Factor
	if swapped {
		f = complex(real(f), -imag(f))
	}
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			attrBaseline: &types.AttributeValueMemberS{Value: bl.String()},
			attrStart:    number(sol.Start),
			attrEnd:      number(sol.End),
			attrFreqMin:  number(sol.FreqMin),
			attrFreqMax:  number(sol.FreqMax),
			attrRe:       number(float64(real(f))),
			attrIm:       number(float64(imag(f))),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to put calibration item: %w", err)
	}
	s.cache.Invalidate(func(k calibration.Baseline) bool { return k == bl })
	return nil
}

// CacheStats returns the solution cache hit and miss counts.
func (s *Source) CacheStats() (hits, misses int64) { return s.cache.Stats() }

func number(v float64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(v, 'g', -1, 64)}
}

func decodeItem(bl calibration.Baseline, item map[string]types.AttributeValue) (calibration.Solution, error) {
	sol := calibration.Solution{Baseline: bl}
	fields := []struct {
		name     string
		dst      *float64
		optional bool
	}{
		{attrStart, &sol.Start, false},
		{attrEnd, &sol.End, false},
		{attrFreqMin, &sol.FreqMin, true},
		{attrFreqMax, &sol.FreqMax, true},
	}
	for _, f := range fields {
		v, err := numberAttr(item, f.name, f.optional)
		if err != nil {
			return sol, err
		}
		*f.dst = v
	}
	re, err := numberAttr(item, attrRe, false)
	if err != nil {
		return sol, err
	}
	im, err := numberAttr(item, attrIm, true)
	if err != nil {
		return sol, err
	}
	sol.Factor = complex(float32(re), float32(im))
	return sol, nil
}

func numberAttr(item map[string]types.AttributeValue, name string, optional bool) (float64, error) {
	raw, present := item[name]
	if !present {
		if optional {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: missing %s attribute", ErrInvalidItem, name)
	}
	n, ok := raw.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("%w: %s is not a number", ErrInvalidItem, name)
	}
	v, err := strconv.ParseFloat(n.Value, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidItem, name, err)
	}
	return v, nil
}
