package backend

import (
	"github.com/ehrlich-b/go-lightnvm/internal/constants"
	"github.com/ehrlich-b/go-lightnvm/internal/interfaces"
)

// Builtins lists the built-in backends in registration order
var Builtins = []struct {
	ID   int
	Name string
	Open interfaces.Opener
}{
	{constants.BeIoctl, "IOCTL", OpenIoctl},
	{constants.BeLbd, "LBD", OpenNosys},
	{constants.BeSpdk, "SPDK", OpenNosys},
	{constants.BeNocd, "NOCD", OpenNocd},
	{constants.BeSim, "SIM", OpenSim},
}

// RegisterAll registers every built-in backend with reg. LBD and SPDK are
// placeholders that refuse to open.
func RegisterAll(reg interfaces.Registrar) error {
	for _, b := range Builtins {
		if err := reg.Register(b.ID, b.Name, b.Open); err != nil {
			return err
		}
	}
	return nil
}
