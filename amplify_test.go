package qgerm

import (
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestAmplifiedParameters(t *testing.T) {
	Convey("Given a model with a known coverage pattern", t, func() {
		model := newPatternModel()

		Convey("An empty germ set is reported incomplete, never score zero", func() {
			res, err := AmplifiedParameters(model, nil, DefaultRepetitions, DefaultRankTol)
			So(err, ShouldBeNil)
			So(res.Rank, ShouldEqual, 0)
			So(res.NullSpace, ShouldNotBeNil)

			score, serr := GermSetScore(model, nil, ScoreAll, DefaultRepetitions, DefaultRankTol)
			So(serr, ShouldBeNil)
			So(score.IsFailure(), ShouldBeTrue)
		})

		Convey("Singletons alone amplify three of four parameters", func() {
			germs := []Sequence{NewSequence("Gi"), NewSequence("Gx"), NewSequence("Gy")}
			res, err := AmplifiedParameters(model, germs, DefaultRepetitions, DefaultRankTol)

			So(err, ShouldBeNil)
			So(res.Rank, ShouldEqual, 3)

			Convey("The null space is exactly the missing direction", func() {
				r, c := res.NullSpace.Dims()
				So(r, ShouldEqual, model.ParameterCount())
				So(c, ShouldEqual, 1)
				// Parameter 3 (the Gx/Gy cross term) is the unamplified one.
				So(math.Abs(res.NullSpace.At(3, 0)), ShouldAlmostEqual, 1, 1e-9)
			})

			Convey("An incomplete set scores the sentinel", func() {
				score, serr := GermSetScore(model, germs, ScoreAll, DefaultRepetitions, DefaultRankTol)
				So(serr, ShouldBeNil)
				So(score.IsFailure(), ShouldBeTrue)
			})
		})

		Convey("Adding a mixed germ completes the set", func() {
			germs := []Sequence{
				NewSequence("Gi"),
				NewSequence("Gx"),
				NewSequence("Gy"),
				NewSequence("Gx", "Gy"),
			}
			res, err := AmplifiedParameters(model, germs, DefaultRepetitions, DefaultRankTol)

			So(err, ShouldBeNil)
			So(res.Rank, ShouldEqual, model.ParameterCount())
			So(res.NullSpace, ShouldBeNil)
			So(res.Complete(model), ShouldBeTrue)

			Convey("Both score functions give finite values", func() {
				all, errAll := GermSetScore(model, germs, ScoreAll, DefaultRepetitions, DefaultRankTol)
				So(errAll, ShouldBeNil)
				So(all.IsFailure(), ShouldBeFalse)

				worst, errWorst := GermSetScore(model, germs, ScoreWorst, DefaultRepetitions, DefaultRankTol)
				So(errWorst, ShouldBeNil)
				So(worst.IsFailure(), ShouldBeFalse)

				// "all" sums over the spectrum, so it dominates "worst".
				So(all.Value, ShouldBeGreaterThanOrEqualTo, worst.Value)
			})
		})
	})

	Convey("Given the explicit single-qubit model", t, func() {
		model := NewSingleQubitModel()

		Convey("The minimal germ count floor is ceil(P/d^2)", func() {
			// 48 parameters, 16 rows per germ.
			So(MinGermFloor(model), ShouldEqual, 3)
		})
	})
}

func TestSpectrumScore(t *testing.T) {
	Convey("Given hand-built spectra", t, func() {
		Convey("'all' sums inverse eigenvalues scaled by cardinality", func() {
			s := spectrumScore([]float64{4, 2, 1}, ScoreAll, 3, 0)
			So(s.IsFailure(), ShouldBeFalse)
			So(s.Value, ShouldAlmostEqual, 3*(0.25+0.5+1), 1e-12)
		})

		Convey("'worst' only sees the smallest eigenvalue", func() {
			s := spectrumScore([]float64{4, 2, 1}, ScoreWorst, 3, 0)
			So(s.Value, ShouldAlmostEqual, 3, 1e-12)
		})

		Convey("A zero eigenvalue at claimed completeness is a failure", func() {
			s := spectrumScore([]float64{4, 2, 0}, ScoreAll, 3, 0)
			So(s.IsFailure(), ShouldBeTrue)
		})

		Convey("An empty spectrum is a failure", func() {
			So(spectrumScore(nil, ScoreAll, 0, 0).IsFailure(), ShouldBeTrue)
		})
	})

	Convey("Score ordering prefers value, then fewer sequences", t, func() {
		a := Score{Value: 1, N: 5}
		b := Score{Value: 2, N: 3}
		So(a.Less(b), ShouldBeTrue)

		tied := Score{Value: 1 + 1e-12, N: 3}
		So(tied.Less(a), ShouldBeTrue) // same value within tolerance, smaller set
	})
}
