//go:build !linux

package camera

// openV4L2 returns an error on platforms without Video4Linux
func openV4L2(config Config) (Camera, error) {
	return nil, ErrNotSupported
}

// ListFormats returns an error on platforms without Video4Linux
func ListFormats(device string) ([]string, error) {
	return nil, ErrNotSupported
}
