package cmn

import "github.com/golang/glog"

// Thin wrappers kept at package level so every component logs the same way
// the teacher does ("glog.Infof(...)" sprinkled through state transitions),
// without every package needing to import glog directly.
func LogInfof(format string, a ...interface{})    { glog.Infof(format, a...) }
func LogWarningf(format string, a ...interface{}) { glog.Warningf(format, a...) }
func LogErrorf(format string, a ...interface{})   { glog.Errorf(format, a...) }
