package qgerm

import (
	"bytes"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSequence(t *testing.T) {
	Convey("Given gate-label sequences", t, func() {
		Convey("Identity is by label tuple only", func() {
			a := NewSequence("Gx", "Gy")
			b := NewSequence("Gx", "Gy")
			c := NewSequence("Gy", "Gx")

			So(a.Equal(b), ShouldBeTrue)
			So(a.Equal(c), ShouldBeFalse)
			So(a.Key(), ShouldEqual, b.Key())
		})

		Convey("Concatenation and repetition build new sequences", func() {
			a := NewSequence("Gx")
			b := NewSequence("Gy")

			So(a.Concat(b).String(), ShouldEqual, "GxGy")
			So(a.Repeat(3).String(), ShouldEqual, "GxGxGx")
			So(a.Repeat(0).Equal(EmptySequence), ShouldBeTrue)
			// The originals are untouched.
			So(a.String(), ShouldEqual, "Gx")
		})

		Convey("The empty sequence renders as {}", func() {
			So(EmptySequence.String(), ShouldEqual, "{}")
			So(EmptySequence.Len(), ShouldEqual, 0)
		})

		Convey("Ambiguous label pairs stay distinct", func() {
			// Gxy as one label vs Gx then Gy.
			one := NewSequence("Gxy")
			two := NewSequence("Gx", "Gy")
			So(one.Equal(two), ShouldBeFalse)
		})
	})
}

func TestAllSequences(t *testing.T) {
	Convey("Given a two-label alphabet", t, func() {
		pool := AllSequences([]string{"Ga", "Gb"}, 0, 2)

		Convey("The pool has every sequence up to the bound, once", func() {
			// 1 empty + 2 singles + 4 pairs.
			So(len(pool), ShouldEqual, 7)

			seen := map[string]bool{}
			for _, s := range pool {
				So(seen[s.Key()], ShouldBeFalse)
				seen[s.Key()] = true
			}
		})

		Convey("Order is deterministic: by length, then label tuple", func() {
			So(pool[0].Len(), ShouldEqual, 0)
			So(pool[1].String(), ShouldEqual, "Ga")
			So(pool[2].String(), ShouldEqual, "Gb")
			So(pool[len(pool)-1].Len(), ShouldEqual, 2)

			again := AllSequences([]string{"Gb", "Ga"}, 0, 2)
			for i := range pool {
				So(pool[i].Key(), ShouldEqual, again[i].Key())
			}
		})

		Convey("A minimum length trims the short end", func() {
			So(len(AllSequences([]string{"Ga", "Gb"}, 1, 2)), ShouldEqual, 6)
		})
	})
}

func TestSequenceFile(t *testing.T) {
	Convey("Given the one-sequence-per-line text format", t, func() {
		seqs := []Sequence{
			EmptySequence,
			NewSequence("Gx"),
			NewSequence("Gx", "Gy", "Gx"),
		}

		Convey("Writing and reading round-trips", func() {
			var buf bytes.Buffer
			So(WriteSequences(&buf, seqs), ShouldBeNil)

			got, err := ReadSequences(&buf)
			So(err, ShouldBeNil)
			So(len(got), ShouldEqual, len(seqs))
			for i := range seqs {
				So(got[i].Equal(seqs[i]), ShouldBeTrue)
			}
		})

		Convey("Comments and blank lines are skipped", func() {
			in := "# germ list\n\n{}\nGxGy\n"
			got, err := ReadSequences(strings.NewReader(in))
			So(err, ShouldBeNil)
			So(len(got), ShouldEqual, 2)
			So(got[1].String(), ShouldEqual, "GxGy")
		})

		Convey("Malformed labels are rejected", func() {
			_, err := ParseSequence("xyGx")
			So(err, ShouldNotBeNil)

			_, err = ParseSequence("GxG")
			So(err, ShouldNotBeNil)
		})

		Convey("Parsing splits at each label start", func() {
			s, err := ParseSequence("GxGyGxx")
			So(err, ShouldBeNil)
			So(s.Len(), ShouldEqual, 3)
			So(s.At(2), ShouldEqual, "Gxx")
		})
	})
}
