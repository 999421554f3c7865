package modtest

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

// greeterSharedSuite exercises the default shared-context mode: one
// build for the whole suite, mocks reset between tests. Test methods
// run alphabetically, so TestA dirties state and TestB verifies it was
// cleaned up.
type greeterSharedSuite struct {
	ContextSuite

	runIDs []string
}

func (s *greeterSharedSuite) SetupSuite() {
	s.Configure(
		WithModules(&greeterModule{}, &consumerModule{}),
		WithMockFor[greeter](func(*TestContext) any {
			return &fakeGreeter{reply: "suite fake"}
		}),
	)
}

func (s *greeterSharedSuite) TestADirtiesMockAndProperties() {
	s.runIDs = append(s.runIDs, s.Context().RunID())

	var svc greeter
	s.RequireService("greeter.service", &svc)

	fake, err := MockOf[greeter](s.Context())
	s.Require().NoError(err)
	s.Same(svc, fake, "the registered service is the installed mock")

	s.Equal("suite fake", fake.Greet("Ada"))
	s.Equal(1, fake.(*fakeGreeter).callCount())

	s.SetProperty("greeter.prefix", "Shared")
	value, ok := s.Context().Property("greeter.prefix")
	s.Require().True(ok)
	s.Equal("Shared", value)
}

func (s *greeterSharedSuite) TestBStartsClean() {
	s.runIDs = append(s.runIDs, s.Context().RunID())

	s.Require().Len(s.runIDs, 2)
	s.Equal(s.runIDs[0], s.runIDs[1], "shared mode reuses one context")

	fake, err := MockOf[greeter](s.Context())
	s.Require().NoError(err)
	s.Equal(0, fake.(*fakeGreeter).callCount(), "mocks are rebuilt between tests")

	_, ok := s.Context().Property("greeter.prefix")
	s.False(ok, "per-test property overrides are reverted")
}

func TestGreeterSharedSuite(t *testing.T) {
	suite.Run(t, new(greeterSharedSuite))
}

// greeterRebuildSuite exercises WithRebuildPerTest: every test method
// gets a context of its own.
type greeterRebuildSuite struct {
	ContextSuite

	runIDs []string
}

func (s *greeterRebuildSuite) SetupSuite() {
	s.Configure(
		WithModules(&greeterModule{}),
		WithRebuildPerTest(),
	)
}

func (s *greeterRebuildSuite) TestAFirstContext() {
	s.runIDs = append(s.runIDs, s.Context().RunID())

	var svc greeter
	s.RequireService("greeter.service", &svc)
	s.Equal("Hello, Ada", svc.Greet("Ada"))
}

func (s *greeterRebuildSuite) TestBFreshContext() {
	s.runIDs = append(s.runIDs, s.Context().RunID())

	s.Require().Len(s.runIDs, 2)
	s.NotEqual(s.runIDs[0], s.runIDs[1], "rebuild mode builds a context per test")
}

func TestGreeterRebuildSuite(t *testing.T) {
	suite.Run(t, new(greeterRebuildSuite))
}
