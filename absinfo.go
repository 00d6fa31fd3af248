package evsync

// AbsInfo mirrors the kernel's struct input_absinfo: the current value of
// an absolute axis plus its calibration. Returned by EVIOCGABS and carried
// in the state cache for every tracked axis.
type AbsInfo struct {
	Value      int32
	Minimum    int32
	Maximum    int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}
