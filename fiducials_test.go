package qgerm

import (
	"context"
	"errors"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

// errAfter reports context.Canceled once Err has been consulted limit
// times, landing a cancellation partway through an enumeration.
type errAfter struct {
	context.Context
	mu    sync.Mutex
	calls int
	limit int
}

func (c *errAfter) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls > c.limit {
		return context.Canceled
	}
	return nil
}

func TestSelectFiducials(t *testing.T) {
	Convey("Given the single-qubit Gi/Gx/Gy model", t, func() {
		model := NewSingleQubitModel()
		pool := AllSequences(model.GateLabels(), 0, 2)
		ctx := context.Background()
		cfg := NewFidConfig(WithGatesToOmit("Gi"))

		Convey("When selecting preparation fiducials with the slack search", func() {
			sel, err := SelectFiducials(ctx, model, pool, Prep, cfg)

			So(err, ShouldBeNil)
			So(sel, ShouldNotBeNil)

			Convey("The set is informationally complete", func() {
				ok, spectrum, _, terr := TestFiducialList(model, sel.Sequences, Prep, ScoreAll, DefaultThreshold)
				So(terr, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(len(spectrum), ShouldEqual, model.Dimension())
				So(spectrum[model.Dimension()-1], ShouldBeGreaterThan, 0)
			})

			Convey("The empty fiducial is always included", func() {
				So(sel.Sequences[0].Len(), ShouldEqual, 0)
			})

			Convey("No omitted or identity-only sequence survives", func() {
				for _, s := range sel.Sequences {
					So(labelCount(s, "Gi"), ShouldEqual, 0)
				}
			})
		})

		Convey("When requiring exactly four fiducials", func() {
			fixed := NewFidConfig(WithGatesToOmit("Gi"), WithFixedNum(4))

			prep, err := SelectFiducials(ctx, model, pool, Prep, fixed)
			So(err, ShouldBeNil)
			So(len(prep.Sequences), ShouldEqual, 4)

			meas, err := SelectFiducials(ctx, model, pool, Meas, fixed)
			So(err, ShouldBeNil)
			So(len(meas.Sequences), ShouldEqual, 4)

			Convey("Both exact-size sets are complete", func() {
				okP, _, _, errP := TestFiducialList(model, prep.Sequences, Prep, ScoreAll, DefaultThreshold)
				So(errP, ShouldBeNil)
				So(okP, ShouldBeTrue)

				okM, _, _, errM := TestFiducialList(model, meas.Sequences, Meas, ScoreAll, DefaultThreshold)
				So(errM, ShouldBeNil)
				So(okM, ShouldBeTrue)
			})
		})

		Convey("When selecting both roles at once", func() {
			both := NewFidConfig(WithGatesToOmit("Gi"))
			prep, meas, err := GenerateFiducials(ctx, model, both)

			So(err, ShouldBeNil)
			So(prep, ShouldNotBeNil)
			So(meas, ShouldNotBeNil)
		})

		Convey("When rerunning with identical inputs", func() {
			a, errA := SelectFiducials(ctx, model, pool, Prep, NewFidConfig(WithGatesToOmit("Gi"), WithFidSeed(3)))
			b, errB := SelectFiducials(ctx, model, pool, Prep, NewFidConfig(WithGatesToOmit("Gi"), WithFidSeed(3)))

			So(errA, ShouldBeNil)
			So(errB, ShouldBeNil)
			So(a.Score.Value, ShouldEqual, b.Score.Value)
			So(len(a.Sequences), ShouldEqual, len(b.Sequences))
			for i := range a.Sequences {
				So(a.Sequences[i].Key(), ShouldEqual, b.Sequences[i].Key())
			}
		})
	})

	Convey("Given a pool that cannot distinguish anything", t, func() {
		model := NewSingleQubitModel()
		// Identity-only candidates: every propagated state is the same.
		pool := []Sequence{EmptySequence, NewSequence("Gi"), NewSequence("Gi", "Gi")}
		cfg := NewFidConfig()
		cfg.OmitIdentity = false

		Convey("Selection fails with an incomplete-pool error, not an empty set", func() {
			sel, err := SelectFiducials(context.Background(), model, pool, Prep, cfg)

			So(sel, ShouldBeNil)
			So(errors.Is(err, ErrIncompletePool), ShouldBeTrue)
		})
	})

	Convey("Given an exact-cardinality search canceled mid-enumeration", t, func() {
		model := NewSingleQubitModel()
		pool := AllSequences(model.GateLabels(), 0, 2)
		cfg := NewFidConfig(WithGatesToOmit("Gi"), WithFixedNum(4))
		ctx := &errAfter{Context: context.Background(), limit: 3}

		sel, err := SelectFiducials(ctx, model, pool, Prep, cfg)

		Convey("The best complete subset found so far comes back with the error", func() {
			So(err, ShouldNotBeNil)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(sel, ShouldNotBeNil)
			So(len(sel.Sequences), ShouldEqual, 4)

			ok, _, _, terr := TestFiducialList(model, sel.Sequences, Prep, ScoreAll, DefaultThreshold)
			So(terr, ShouldBeNil)
			So(ok, ShouldBeTrue)
		})
	})

	Convey("Given an exact cardinality below the completeness floor", t, func() {
		model := NewSingleQubitModel()
		pool := AllSequences(model.GateLabels(), 0, 2)
		cfg := NewFidConfig(WithGatesToOmit("Gi"), WithFixedNum(1))

		Convey("The search reports exhaustion", func() {
			_, err := SelectFiducials(context.Background(), model, pool, Prep, cfg)
			So(errors.Is(err, ErrSearchExhausted), ShouldBeTrue)
		})
	})

	Convey("Given contradictory slack settings", t, func() {
		model := NewSingleQubitModel()
		pool := AllSequences(model.GateLabels(), 0, 2)
		cfg := NewFidConfig()
		cfg.FixedSlack = 1.0 // SlackFrac still set

		_, err := SelectFiducials(context.Background(), model, pool, Prep, cfg)
		So(errors.Is(err, ErrInvalidConfig), ShouldBeTrue)
	})
}

func TestTestFiducialList(t *testing.T) {
	Convey("Given the single-qubit model", t, func() {
		model := NewSingleQubitModel()

		Convey("The canonical four-element prep set passes", func() {
			fids := []Sequence{
				EmptySequence,
				NewSequence("Gx"),
				NewSequence("Gy"),
				NewSequence("Gx", "Gx"),
			}
			ok, spectrum, score, err := TestFiducialList(model, fids, Prep, ScoreAll, DefaultThreshold)

			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(score.IsFailure(), ShouldBeFalse)
			So(len(spectrum), ShouldEqual, 4)
		})

		Convey("An identity-only list fails", func() {
			fids := []Sequence{EmptySequence, NewSequence("Gi")}
			ok, _, score, err := TestFiducialList(model, fids, Prep, ScoreAll, DefaultThreshold)

			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
			So(score.IsFailure(), ShouldBeTrue)
		})

		Convey("The same sets work for measurement fiducials", func() {
			fids := []Sequence{
				EmptySequence,
				NewSequence("Gx"),
				NewSequence("Gy"),
				NewSequence("Gx", "Gx"),
			}
			ok, _, _, err := TestFiducialList(model, fids, Meas, ScoreAll, DefaultThreshold)

			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
		})
	})
}
