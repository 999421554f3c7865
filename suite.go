package modtest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
)

// ContextSuite is a testify suite with a managed test context. The
// context is built once for the whole suite and mocks are reset before
// every test; with WithRebuildPerTest a fresh context is built for each
// test instead. Embed it and call Configure before the suite runs:
//
//	type UserSuite struct {
//		modtest.ContextSuite
//	}
//
//	func (s *UserSuite) SetupSuite() {
//		s.Configure(
//			modtest.WithModules(&UserModule{}),
//			modtest.WithMock("userStore", newStoreMock),
//		)
//	}
//
//	func TestUserSuite(t *testing.T) {
//		suite.Run(t, new(UserSuite))
//	}
type ContextSuite struct {
	suite.Suite

	opts    []Option
	rebuild bool
	tc      *TestContext
	logger  *suiteLogger
}

// suiteLogger routes shared-context log output to whichever test is
// currently running. Logging through a single test's testing.T would
// panic once that test completes.
type suiteLogger struct {
	mu sync.Mutex
	tb testing.TB
}

func (l *suiteLogger) setTB(tb testing.TB) {
	l.mu.Lock()
	l.tb = tb
	l.mu.Unlock()
}

func (l *suiteLogger) target() Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.tb == nil {
		return noopLogger{}
	}
	return NewTestLogger(l.tb)
}

func (l *suiteLogger) Info(msg string, args ...any)  { l.target().Info(msg, args...) }
func (l *suiteLogger) Error(msg string, args ...any) { l.target().Error(msg, args...) }
func (l *suiteLogger) Warn(msg string, args ...any)  { l.target().Warn(msg, args...) }
func (l *suiteLogger) Debug(msg string, args ...any) { l.target().Debug(msg, args...) }

// Configure stores the options the suite's context is built with.
func (s *ContextSuite) Configure(opts ...Option) {
	s.opts = opts

	// Apply the options onto a scratch builder so the suite knows the
	// rebuild mode before the first build.
	builder := NewContextBuilder()
	for _, opt := range opts {
		if opt(builder) != nil {
			break
		}
	}
	s.rebuild = builder.rebuildPerTest
}

// Context returns the suite's test context, building it if needed.
func (s *ContextSuite) Context() *TestContext {
	if s.tc == nil {
		s.SetupTest()
	}
	return s.tc
}

// App returns the application under test.
func (s *ContextSuite) App() *StdApplication {
	return s.Context().App()
}

// RequireService resolves a service into target, failing the current
// test when it cannot.
func (s *ContextSuite) RequireService(name string, target any) {
	s.T().Helper()
	s.Context().RequireService(s.T(), name, target)
}

// SetProperty applies a property override scoped to the current test.
func (s *ContextSuite) SetProperty(key string, value any) {
	s.T().Helper()
	if err := s.Context().SetProperty(s.T(), key, value); err != nil {
		s.T().Fatalf("setting property '%s': %v", key, err)
	}
}

// SetupTest builds the context on first use and, on a shared context,
// resets mocks so each test starts clean. In rebuild mode every test
// gets a fresh context, torn down when the test finishes.
func (s *ContextSuite) SetupTest() {
	if s.rebuild {
		s.tc = New(s.T(), s.opts...)
		return
	}

	if s.logger == nil {
		s.logger = &suiteLogger{}
	}
	s.logger.setTB(s.T())

	if s.tc == nil {
		s.buildShared(s.T())
		return
	}

	if err := s.tc.ResetMocks(context.Background()); err != nil {
		s.T().Fatalf("resetting mocks between tests: %v", err)
	}
}

// buildShared builds the suite-wide context. Teardown happens in
// TearDownSuite rather than a per-test cleanup.
func (s *ContextSuite) buildShared(tb testing.TB) {
	opts := make([]Option, 0, len(s.opts)+1)
	opts = append(opts, WithLogger(s.logger))
	opts = append(opts, s.opts...)

	tc, err := Build(nil, opts...)
	if err != nil {
		tb.Fatalf("building suite context: %v", err)
	}
	s.tc = tc
}

// TearDownSuite closes the suite's context. Idempotent with the
// per-test teardown of rebuild mode.
func (s *ContextSuite) TearDownSuite() {
	if s.tc == nil {
		return
	}
	if s.logger != nil {
		s.logger.setTB(s.T())
	}
	if err := s.tc.Close(); err != nil {
		s.T().Logf("closing suite context: %v", err)
	}
	s.tc = nil
}
