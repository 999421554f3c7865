package modtest

import (
	"context"

	"github.com/cucumber/godog"
)

// bddContextKey carries the scenario's test context through the godog
// context chain.
type bddContextKey struct{}

// AttachScenario wires a test context per scenario into a godog
// ScenarioContext: the context is built before each scenario with the
// given options and closed after it. Steps retrieve it with
// FromScenario:
//
//	func InitializeScenario(sc *godog.ScenarioContext) {
//		modtest.AttachScenario(sc,
//			modtest.WithModules(&CartModule{}),
//			modtest.WithMock("pricing", newPricingMock),
//		)
//		sc.Step(`^the cart total is (\d+)$`, theCartTotalIs)
//	}
func AttachScenario(sc *godog.ScenarioContext, opts ...Option) {
	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		tc, err := Build(nil, opts...)
		if err != nil {
			return ctx, err
		}
		return context.WithValue(ctx, bddContextKey{}, tc), nil
	})

	sc.After(func(ctx context.Context, _ *godog.Scenario, scenarioErr error) (context.Context, error) {
		tc, ok := FromScenario(ctx)
		if !ok {
			return ctx, nil
		}
		if err := tc.Close(); err != nil && scenarioErr == nil {
			return ctx, err
		}
		return ctx, nil
	})
}

// FromScenario returns the test context AttachScenario bound to the
// scenario's context.
func FromScenario(ctx context.Context) (*TestContext, bool) {
	tc, ok := ctx.Value(bddContextKey{}).(*TestContext)
	return tc, ok
}
