//go:build !debug

package debug

func Assert(cond bool, a ...interface{})                {}
func Assertf(cond bool, f string, a ...interface{})      {}
func AssertNoErr(err error)                              {}
func AssertMsg(cond bool, msg string)                    {}
