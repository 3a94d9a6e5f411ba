package cancel

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRegistry(t *testing.T) {
	Convey("Registry 按类别的单飞令牌", t, func() {
		reg := NewRegistry()
		ctx := context.Background()

		Convey("新 Begin 作废同类别的旧令牌", func() {
			old := reg.Begin(ctx, ClassSelect)
			So(old.Live(), ShouldBeTrue)

			fresh := reg.Begin(ctx, ClassSelect)
			So(old.Live(), ShouldBeFalse)
			So(fresh.Live(), ShouldBeTrue)
			So(old.Context().Err(), ShouldNotBeNil)
			So(fresh.Context().Err(), ShouldBeNil)
		})

		Convey("类别之间相互独立", func() {
			sel := reg.Begin(ctx, ClassSelect)
			str := reg.Begin(ctx, ClassStream)

			reg.Begin(ctx, ClassSelect)

			So(sel.Live(), ShouldBeFalse)
			So(str.Live(), ShouldBeTrue)
			So(str.Context().Err(), ShouldBeNil)
		})

		Convey("Cancel 取消在途操作且令当前令牌失去权威", func() {
			tok := reg.Begin(ctx, ClassStream)
			reg.Cancel(ClassStream)

			So(tok.Context().Err(), ShouldNotBeNil)
			So(tok.Live(), ShouldBeFalse)
		})

		Convey("父上下文取消传递到令牌", func() {
			parent, cancelParent := context.WithCancel(ctx)
			tok := reg.Begin(parent, ClassDirectory)

			cancelParent()
			So(tok.Context().Err(), ShouldNotBeNil)
		})
	})
}
