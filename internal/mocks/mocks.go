package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/gatewalk/api/schemas"
)

// -- Vision Client Mock --

// MockVisionClient mocks oracle.VisionClient.
type MockVisionClient struct {
	mock.Mock
}

func (m *MockVisionClient) Complete(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	args := m.Called(ctx, prompt, image, mimeType)
	return args.String(0), args.Error(1)
}

// -- Perception Oracle Mock --

// MockOracle mocks schemas.PerceptionOracle.
type MockOracle struct {
	mock.Mock
}

func (m *MockOracle) ClassifyRegions(ctx context.Context, image []byte, pc schemas.PromptContext) (*schemas.PuzzleAnalysis, error) {
	args := m.Called(ctx, image, pc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.PuzzleAnalysis), args.Error(1)
}

// -- Browser Surface Mock --

// MockSurface mocks schemas.BrowserSurface.
type MockSurface struct {
	mock.Mock
}

var _ schemas.BrowserSurface = (*MockSurface)(nil)

func (m *MockSurface) Navigate(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}
func (m *MockSurface) CurrentURL(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *MockSurface) Title(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
func (m *MockSurface) QueryOne(ctx context.Context, selector string) (*schemas.Element, error) {
	args := m.Called(ctx, selector)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.Element), args.Error(1)
}
func (m *MockSurface) QueryAll(ctx context.Context, selector string) ([]schemas.Element, error) {
	args := m.Called(ctx, selector)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.Element), args.Error(1)
}
func (m *MockSurface) QueryInFrame(ctx context.Context, frameSelector, selector string) ([]schemas.Element, error) {
	args := m.Called(ctx, frameSelector, selector)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.Element), args.Error(1)
}
func (m *MockSurface) WaitFor(ctx context.Context, selector string, timeout time.Duration) error {
	return m.Called(ctx, selector, timeout).Error(0)
}
func (m *MockSurface) Click(ctx context.Context, target string, p schemas.Point) error {
	return m.Called(ctx, target, p).Error(0)
}
func (m *MockSurface) MoveTo(ctx context.Context, p schemas.Point) error {
	return m.Called(ctx, p).Error(0)
}
func (m *MockSurface) TypeText(ctx context.Context, target, text string, perCharDelay time.Duration) error {
	return m.Called(ctx, target, text, perCharDelay).Error(0)
}
func (m *MockSurface) PressKey(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}
func (m *MockSurface) Screenshot(ctx context.Context, clip *schemas.Box) ([]byte, error) {
	args := m.Called(ctx, clip)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
func (m *MockSurface) Evaluate(ctx context.Context, script string, res any) error {
	return m.Called(ctx, script, res).Error(0)
}
func (m *MockSurface) GoBack(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *MockSurface) Reload(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *MockSurface) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.Cookie), args.Error(1)
}
func (m *MockSurface) SetCookies(ctx context.Context, cookies []schemas.Cookie) error {
	return m.Called(ctx, cookies).Error(0)
}
