package modtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newBareContext builds the minimal context a MockRegistry needs: an
// application with a live service registry.
func newBareContext(t *testing.T) *TestContext {
	t.Helper()
	return &TestContext{
		app:    newTestApplication(t, nil),
		logger: NewTestLogger(t),
	}
}

func TestDeclareNamedValidation(t *testing.T) {
	r := NewMockRegistry(NewTestLogger(t))

	assert.ErrorIs(t, r.DeclareNamed("svc", nil), ErrMockFactoryNil)
	assert.ErrorIs(t, r.DeclareNamed("", func(*TestContext) any { return struct{}{} }), ErrMockTargetUnresolvable)

	require.NoError(t, r.DeclareNamed("svc", func(*TestContext) any { return &fakeGreeter{} }))
	assert.ErrorIs(t, r.DeclareNamed("svc", func(*TestContext) any { return &fakeGreeter{} }), ErrMockAlreadyDeclared)
	assert.Equal(t, 1, r.Len())
}

func TestDeclareForInterfaceValidation(t *testing.T) {
	r := NewMockRegistry(NewTestLogger(t))
	iface := InterfaceType[greeter]()

	assert.ErrorIs(t, r.DeclareForInterface(iface, nil), ErrMockFactoryNil)
	assert.ErrorIs(t, r.DeclareForInterface(nil, func(*TestContext) any { return nil }), ErrMockTargetUnresolvable)

	require.NoError(t, r.DeclareForInterface(iface, func(*TestContext) any { return &fakeGreeter{} }))
	assert.ErrorIs(t, r.DeclareForInterface(iface, func(*TestContext) any { return &fakeGreeter{} }), ErrMockAlreadyDeclared)
}

func TestInstallByName(t *testing.T) {
	tc := newBareContext(t)
	original := &realGreeter{prefix: "Hello"}
	require.NoError(t, tc.app.RegisterService("greeter.service", original))

	r := NewMockRegistry(NewTestLogger(t))
	fake := &fakeGreeter{reply: "mocked"}
	require.NoError(t, r.DeclareNamed("greeter.service", func(*TestContext) any { return fake }))
	require.NoError(t, r.Install(tc))

	assert.Same(t, fake, tc.SvcRegistry()["greeter.service"])

	current, ok := r.Current("greeter.service")
	require.True(t, ok)
	assert.Same(t, fake, current)
	assert.Equal(t, []string{"greeter.service"}, r.Names())
}

func TestInstallByInterface(t *testing.T) {
	tc := newBareContext(t)
	require.NoError(t, tc.app.RegisterService("greeter.service", &realGreeter{}))
	require.NoError(t, tc.app.RegisterService("unrelated", &refreshProbe{}))

	r := NewMockRegistry(NewTestLogger(t))
	require.NoError(t, r.DeclareForInterface(InterfaceType[greeter](), func(*TestContext) any {
		return &fakeGreeter{reply: "by iface"}
	}))
	require.NoError(t, r.Install(tc))

	assert.Equal(t, []string{"greeter.service"}, r.Names(), "interface declarations resolve to the implementing service")
	assert.IsType(t, &fakeGreeter{}, tc.SvcRegistry()["greeter.service"])
}

func TestInstallUnresolvable(t *testing.T) {
	t.Run("named service missing", func(t *testing.T) {
		tc := newBareContext(t)
		r := NewMockRegistry(NewTestLogger(t))
		require.NoError(t, r.DeclareNamed("absent", func(*TestContext) any { return &fakeGreeter{} }))
		assert.ErrorIs(t, r.Install(tc), ErrMockTargetUnresolvable)
	})

	t.Run("no interface implementation", func(t *testing.T) {
		tc := newBareContext(t)
		r := NewMockRegistry(NewTestLogger(t))
		require.NoError(t, r.DeclareForInterface(InterfaceType[greeter](), func(*TestContext) any { return &fakeGreeter{} }))
		assert.ErrorIs(t, r.Install(tc), ErrMockTargetUnresolvable)
	})
}

func TestInstallDuplicateResolution(t *testing.T) {
	tc := newBareContext(t)
	require.NoError(t, tc.app.RegisterService("greeter.service", &realGreeter{}))

	r := NewMockRegistry(NewTestLogger(t))
	require.NoError(t, r.DeclareNamed("greeter.service", func(*TestContext) any { return &fakeGreeter{} }))
	require.NoError(t, r.DeclareForInterface(InterfaceType[greeter](), func(*TestContext) any { return &fakeGreeter{} }))

	err := r.Install(tc)
	require.ErrorIs(t, err, ErrMockAlreadyDeclared)
	assert.Contains(t, err.Error(), "greeter.service")
}

func TestInstallFactoryFailures(t *testing.T) {
	t.Run("factory returns nil", func(t *testing.T) {
		tc := newBareContext(t)
		require.NoError(t, tc.app.RegisterService("greeter.service", &realGreeter{}))

		r := NewMockRegistry(NewTestLogger(t))
		require.NoError(t, r.DeclareNamed("greeter.service", func(*TestContext) any { return nil }))
		assert.ErrorIs(t, r.Install(tc), ErrMockFactoryReturnedNil)
	})

	t.Run("mock misses the declared interface", func(t *testing.T) {
		tc := newBareContext(t)
		require.NoError(t, tc.app.RegisterService("greeter.service", &realGreeter{}))

		r := NewMockRegistry(NewTestLogger(t))
		require.NoError(t, r.DeclareForInterface(InterfaceType[greeter](), func(*TestContext) any {
			return &struct{ X int }{}
		}))
		assert.ErrorIs(t, r.Install(tc), ErrMockInterfaceUnsatisfied)
	})
}

func TestResetProducesFreshMocks(t *testing.T) {
	tc := newBareContext(t)
	require.NoError(t, tc.app.RegisterService("greeter.service", &realGreeter{}))

	builds := 0
	r := NewMockRegistry(NewTestLogger(t))
	require.NoError(t, r.DeclareNamed("greeter.service", func(*TestContext) any {
		builds++
		return &fakeGreeter{}
	}))
	require.NoError(t, r.Install(tc))

	first := tc.SvcRegistry()["greeter.service"]
	require.NoError(t, r.Reset(tc))
	second := tc.SvcRegistry()["greeter.service"]

	assert.Equal(t, 2, builds)
	assert.NotSame(t, first, second, "reset must produce a new instance")

	current, _ := r.Current("greeter.service")
	assert.Same(t, second, current)
}

func TestSwap(t *testing.T) {
	tc := newBareContext(t)
	require.NoError(t, tc.app.RegisterService("greeter.service", &realGreeter{}))
	require.NoError(t, tc.app.RegisterService("plain", &refreshProbe{}))

	r := NewMockRegistry(NewTestLogger(t))
	declared := &fakeGreeter{reply: "declared"}
	require.NoError(t, r.DeclareNamed("greeter.service", func(*TestContext) any { return declared }))
	require.NoError(t, r.Install(tc))

	t.Run("declared entry", func(t *testing.T) {
		replacement := &fakeGreeter{reply: "swapped"}
		previous, err := r.Swap(tc, "greeter.service", replacement)
		require.NoError(t, err)
		assert.Same(t, declared, previous)
		assert.Same(t, replacement, tc.SvcRegistry()["greeter.service"])
	})

	t.Run("undeclared service", func(t *testing.T) {
		replacement := &refreshProbe{}
		previous, err := r.Swap(tc, "plain", replacement)
		require.NoError(t, err)
		assert.NotNil(t, previous)
		assert.Same(t, replacement, tc.SvcRegistry()["plain"])
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := r.Swap(tc, "absent", &fakeGreeter{})
		assert.ErrorIs(t, err, ErrServiceNotFound)
	})

	t.Run("nil instance", func(t *testing.T) {
		_, err := r.Swap(tc, "greeter.service", nil)
		assert.ErrorIs(t, err, ErrServiceNil)
	})
}

func TestSwapInterfaceCheck(t *testing.T) {
	tc := newBareContext(t)
	require.NoError(t, tc.app.RegisterService("greeter.service", &realGreeter{}))

	r := NewMockRegistry(NewTestLogger(t))
	require.NoError(t, r.DeclareForInterface(InterfaceType[greeter](), func(*TestContext) any { return &fakeGreeter{} }))
	require.NoError(t, r.Install(tc))

	_, err := r.Swap(tc, "greeter.service", &struct{ X int }{})
	assert.ErrorIs(t, err, ErrMockInterfaceUnsatisfied)
}

func TestMockOf(t *testing.T) {
	tc := newBareContext(t)
	fake := &fakeGreeter{reply: "hi"}
	require.NoError(t, tc.app.RegisterService("greeter.service", fake))

	got, err := MockOf[greeter](tc)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Greet("x"))
	assert.Equal(t, 1, fake.callCount())

	_, err = MockOf[fakeGreeter](tc)
	assert.ErrorIs(t, err, ErrMockTargetUnresolvable, "non-interface type parameters are rejected")

	_, err = MockOf[Refreshable](tc)
	assert.ErrorIs(t, err, ErrServiceNotFound)
}

func TestNamedMock(t *testing.T) {
	tc := newBareContext(t)
	fake := &fakeGreeter{}
	require.NoError(t, tc.app.RegisterService("greeter.service", fake))

	got, err := NamedMock[*fakeGreeter](tc, "greeter.service")
	require.NoError(t, err)
	assert.Same(t, fake, got)

	_, err = NamedMock[*realGreeter](tc, "greeter.service")
	assert.ErrorIs(t, err, ErrServiceIncompatible)

	_, err = NamedMock[*fakeGreeter](tc, "absent")
	assert.ErrorIs(t, err, ErrServiceNotFound)
}
