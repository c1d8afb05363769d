package qgerm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestTrialPool(t *testing.T) {
	Convey("Given a pool of workers", t, func() {
		Convey("Every trial runs and results come back in trial order", func() {
			trials := make([]TrialFn, 50)
			for i := range trials {
				i := i
				trials[i] = func() (any, error) { return i * i, nil }
			}

			results := NewTrialPool(4).Run(context.Background(), trials)
			So(len(results), ShouldEqual, len(trials))
			for i, r := range results {
				So(r.Trial, ShouldEqual, i)
				So(r.Err, ShouldBeNil)
				So(r.Value, ShouldEqual, i*i)
			}
		})

		Convey("A failing trial reports in its own slot only", func() {
			boom := errors.New("boom")
			trials := []TrialFn{
				func() (any, error) { return "a", nil },
				func() (any, error) { return nil, boom },
				func() (any, error) { return "c", nil },
			}

			results := NewTrialPool(2).Run(context.Background(), trials)
			So(results[0].Err, ShouldBeNil)
			So(results[1].Err, ShouldEqual, boom)
			So(results[2].Err, ShouldBeNil)
			So(results[2].Value, ShouldEqual, "c")
		})

		Convey("A canceled context marks unstarted trials with the context error", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			trials := make([]TrialFn, 8)
			for i := range trials {
				trials[i] = func() (any, error) { return nil, fmt.Errorf("should not run") }
			}

			results := NewTrialPool(2).Run(ctx, trials)
			So(len(results), ShouldEqual, len(trials))
			canceled := 0
			for _, r := range results {
				if errors.Is(r.Err, context.Canceled) {
					canceled++
				}
			}
			So(canceled, ShouldBeGreaterThan, 0)
		})

		Convey("A non-positive worker count still runs everything", func() {
			trials := []TrialFn{func() (any, error) { return 42, nil }}
			results := NewTrialPool(0).Run(context.Background(), trials)
			So(results[0].Value, ShouldEqual, 42)
		})
	})
}
