package cascade_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/petrijr/cascade"
)

var errPaymentDeclined = errors.New("payment declined")

// Example_saga shows a failed step rolling back the steps before it.
func Example_saga() {
	ctx := context.Background()

	reserve := cascade.NewNode("reserve", func(ctx context.Context, sku string) (string, error) {
		return "res-" + sku, nil
	}).WithInput("A-1").WithRetry(cascade.NoRetry()).
		WithCompensation(cascade.NewNode("release", func(ctx context.Context, id string) (struct{}, error) {
			fmt.Println("release", id)
			return struct{}{}, nil
		}).WithInput(cascade.OutputRef("reserve")).WithRetry(cascade.NoRetry()))

	charge := cascade.NewNode("charge", func(ctx context.Context, _ any) (string, error) {
		return "", cascade.NonRetryable(errPaymentDeclined)
	})

	eng := cascade.NewInMemoryEngine()
	flow := cascade.New("checkout").
		Trigger(cascade.Manual()).
		Then(reserve).
		Then(charge).
		MustRegister(eng)

	run, err := eng.Start(ctx, flow.Name(), nil)
	fmt.Println(run.Status, errors.Is(err, errPaymentDeclined))
	fmt.Println("compensated:", run.Compensated)

	// Output:
	// release res-A-1
	// FAILED true
	// compensated: [release]
}

// Example_localRunner demonstrates running flows through a LocalRunner's
// queue and worker goroutines.
func Example_localRunner() {
	ctx := context.Background()
	runner := cascade.NewLocalRunner()

	hello := cascade.NewNode("hello", func(ctx context.Context, name string) (string, error) {
		return "hello, " + name, nil
	}).WithInput("Gopher")

	flow := cascade.New("greeting").
		Trigger(cascade.Manual()).
		Then(hello).
		MustRegister(runner.Engine)

	if err := runner.StartWorkers(ctx, 1); err != nil {
		fmt.Println(err)
		return
	}
	defer runner.Stop()

	runID, err := runner.StartAsync(ctx, flow.Name(), nil)
	if err != nil {
		fmt.Println(err)
		return
	}
	run, err := runner.WaitRun(ctx, runID)
	if err != nil {
		fmt.Println(err)
		return
	}
	msg, _ := cascade.Get[string](run.State, "hello")
	fmt.Println(run.Status, msg)

	// Output:
	// COMPLETED hello, Gopher
}
