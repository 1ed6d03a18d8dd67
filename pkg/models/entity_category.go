package models

// Category is the top-level classification of a Legion entity
type Category string

func (c Category) String() string {
	return string(c)
}

const (
	// CATEGORY_DEVICE is a physical or logical unit, such as a docking pad
	CATEGORY_DEVICE Category = "DEVICE"
	// CATEGORY_WEATHER is a weather observation or system
	CATEGORY_WEATHER Category = "WEATHER"
	// CATEGORY_UXV is an unmanned vehicle; mission drones are registered as UXV
	CATEGORY_UXV Category = "UXV"
)
