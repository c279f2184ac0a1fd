package app

import (
	"github.com/vk/meshrun/internal/registry"
	"github.com/vk/meshrun/modules/accumulate"
	"github.com/vk/meshrun/modules/linear"
	"github.com/vk/meshrun/modules/print"
	"github.com/vk/meshrun/modules/sum"
)

// coreModules is the definitive list of all modules that are compiled into
// the meshrun binary.
var coreModules = []registry.Module{
	&linear.Module{},
	&sum.Module{},
	&accumulate.Module{},
	&print.Module{},
}
