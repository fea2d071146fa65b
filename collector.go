package parallelize

// Unit is a task as collected for a run, together with the optional name used
// in logs and the opaque data handed back to the rollback hook
type Unit struct {
	Name string
	Data any
	Task Task
}

// Collector accumulates units in the order they are added. It is only valid
// inside the build callback passed to Collect.
type Collector struct {
	units []Unit
}

// Run appends an anonymous unit
func (c *Collector) Run(task Task) {
	c.RunWith("", nil, task)
}

// RunNamed appends a unit with a name used in logs and failure reports
func (c *Collector) RunNamed(name string, task Task) {
	c.RunWith(name, nil, task)
}

// RunWith appends a unit with a name and opaque data which is passed back in
// the unit's RollbackContext
func (c *Collector) RunWith(name string, data any, task Task) {
	c.units = append(c.units, Unit{Name: name, Data: data, Task: task})
}

// Collection is the finalized ordered sequence of units for one run
type Collection struct {
	units []Unit
}

// Collect calls build with a fresh collector and returns what was added.
//
// Example:
//
//	coll := parallelize.Collect(func(c *parallelize.Collector) {
//	    for _, host := range hosts {
//	        c.RunNamed(host, deployTo(host))
//	    }
//	})
func Collect(build func(c *Collector)) Collection {
	c := &Collector{}
	if build != nil {
		build(c)
	}
	units := c.units
	c.units = nil
	return Collection{units: units}
}

// CollectionOf builds a collection of anonymous units
func CollectionOf(tasks ...Task) Collection {
	return Collect(func(c *Collector) {
		for _, task := range tasks {
			c.Run(task)
		}
	})
}

// Len returns the number of units
func (coll Collection) Len() int {
	return len(coll.units)
}

// Units returns a copy of the collected units
func (coll Collection) Units() []Unit {
	return append([]Unit(nil), coll.units...)
}
