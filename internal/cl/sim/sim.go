// Package sim is an in-memory OpenCL driver. It records every entry point
// call and every kernel launch together with the argument bytes the device
// would have seen, so command submission can be inspected without a GPU.
package sim

import (
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"unsafe"

	"github.com/goccy/go-json"

	"github.com/samcharles93/cldispatch/internal/cl"
)

const (
	ViaQueue         = "queue"
	ViaCommandBuffer = "command-buffer"
)

// DefaultDevice describes a Valhall-class device. The command buffer
// extensions are advertised only when mutableDispatch is set.
func DefaultDevice(mutableDispatch bool) cl.DeviceInfo {
	exts := []string{"cl_khr_fp16", cl.ExtImage2DFromBuffer}
	if mutableDispatch {
		exts = append(exts, cl.ExtCommandBuffer, cl.ExtMutableDispatch)
	}
	return cl.DeviceInfo{
		Name:             "sim-mali-g710",
		Target:           "g710",
		Extensions:       exts,
		Image2DMaxWidth:  65536,
		Image2DMaxHeight: 65536,
	}
}

// HexBytes renders argument bytes as hex in traces.
type HexBytes []byte

func (b HexBytes) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(b)), nil
}

// Launch is one kernel execution as seen by the device.
type Launch struct {
	Seq    int                 `json:"seq"`
	Via    string              `json:"via"`
	Kernel string              `json:"kernel"`
	Offset cl.NDRange          `json:"offset"`
	Global cl.NDRange          `json:"global"`
	Local  cl.NDRange          `json:"local"`
	Args   map[uint32]HexBytes `json:"args"`
}

// ArgUint64 decodes argument idx as a little-endian integer of its own width.
func (l Launch) ArgUint64(idx uint32) uint64 {
	var v uint64
	b := l.Args[idx]
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

type command struct {
	handle cl.MutableCommandHandle
	kernel cl.Kernel
	offset cl.NDRange
	global cl.NDRange
	local  cl.NDRange
	args   map[uint32]HexBytes
}

type commandBuffer struct {
	queue     cl.QueueHandle
	commands  []*command
	finalized bool
}

// Driver implements cl.CommandBufferDriver. It is safe for concurrent use.
type Driver struct {
	mu sync.Mutex

	device   cl.DeviceInfo
	failures map[string]cl.Status
	next     uintptr

	kernelArgs map[uintptr]map[uint32]HexBytes
	argCounts  map[string]uint32
	arity      map[uintptr]uint32
	buffers    map[cl.CommandBufferHandle]*commandBuffer
	builds     map[string][]string

	calls    []string
	launches []Launch
}

func New(device cl.DeviceInfo) *Driver {
	return &Driver{
		device:     device,
		failures:   make(map[string]cl.Status),
		kernelArgs: make(map[uintptr]map[uint32]HexBytes),
		argCounts:  make(map[string]uint32),
		arity:      make(map[uintptr]uint32),
		buffers:    make(map[cl.CommandBufferHandle]*commandBuffer),
		builds:     make(map[string][]string),
	}
}

// Queue returns a fresh queue on this driver.
func (d *Driver) Queue() *cl.Queue {
	d.mu.Lock()
	h := d.handleLocked()
	d.mu.Unlock()
	return cl.NewQueue(d, cl.QueueHandle(h), d.device)
}

// Kernel plays the program compilation layer: it hands out a new kernel
// handle and remembers the build options it was asked for.
func (d *Driver) Kernel(name string, options []string) (cl.Kernel, error) {
	if name == "" {
		return cl.Kernel{}, fmt.Errorf("sim: empty kernel name")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.handleLocked()
	d.builds[name] = slices.Clone(options)
	if n, ok := d.argCounts[name]; ok {
		d.arity[h] = n
	}
	return cl.Kernel{Handle: h, Name: name}, nil
}

// SetArgCount declares how many arguments kernels built under name take.
// Launching or recording such a kernel with any of them unset fails with
// CL_INVALID_KERNEL_ARGS. Kernels without a declared count are not checked.
func (d *Driver) SetArgCount(name string, n uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.argCounts[name] = n
}

// Buffer hands out a fresh memory object handle. Contents are not modelled.
func (d *Driver) Buffer() cl.Mem {
	d.mu.Lock()
	defer d.mu.Unlock()
	return cl.Mem(d.handleLocked())
}

// BuildOptions returns the options the named kernel was last built with.
func (d *Driver) BuildOptions(name string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.builds[name])
}

// FailOn makes every later call to the named entry point return status.
func (d *Driver) FailOn(call string, status cl.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[call] = status
}

// Calls returns the entry point names invoked so far, in order.
func (d *Driver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.calls)
}

// CallCount counts invocations of one entry point.
func (d *Driver) CallCount(call string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (d *Driver) Launches() []Launch {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.launches)
}

// LiveCommandBuffers counts created and not yet released command buffers.
func (d *Driver) LiveCommandBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

// Reset clears the call log and launch trace; kernels and buffers survive.
func (d *Driver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
	d.launches = nil
}

// WriteTrace encodes the launch trace as indented JSON.
func (d *Driver) WriteTrace(w io.Writer) error {
	trace := struct {
		Device   string   `json:"device"`
		Calls    []string `json:"calls"`
		Launches []Launch `json:"launches"`
	}{
		Device:   d.device.Name,
		Calls:    d.Calls(),
		Launches: d.Launches(),
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(trace)
}

// WriteText prints one line per launch.
func (d *Driver) WriteText(w io.Writer) error {
	for _, l := range d.Launches() {
		keys := slices.Sorted(maps.Keys(l.Args))
		args := make([]string, 0, len(keys))
		for _, k := range keys {
			args = append(args, fmt.Sprintf("%d=%x", k, []byte(l.Args[k])))
		}
		_, err := fmt.Fprintf(w, "#%d %-14s %s offset=%s global=%s local=%s args=[%s]\n",
			l.Seq, l.Via, l.Kernel, l.Offset, l.Global, l.Local, strings.Join(args, " "))
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) SetKernelArg(k cl.Kernel, index uint32, size uintptr, value unsafe.Pointer) cl.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, failed := d.enterLocked(cl.CallSetKernelArg); failed {
		return st
	}
	if size == 0 || value == nil {
		return cl.InvalidArgValue
	}
	args, ok := d.kernelArgs[k.Handle]
	if !ok {
		args = make(map[uint32]HexBytes)
		d.kernelArgs[k.Handle] = args
	}
	args[index] = HexBytes(slices.Clone(unsafe.Slice((*byte)(value), size)))
	return cl.Success
}

func (d *Driver) EnqueueNDRangeKernel(q cl.QueueHandle, k cl.Kernel, offset, global, local cl.NDRange) cl.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, failed := d.enterLocked(cl.CallEnqueueNDRangeKernel); failed {
		return st
	}
	if st := checkRanges(offset, global, local); st != cl.Success {
		return st
	}
	if st := d.checkArgsLocked(k); st != cl.Success {
		return st
	}
	d.launchLocked(ViaQueue, k, offset, global, local, maps.Clone(d.kernelArgs[k.Handle]))
	return cl.Success
}

func (d *Driver) CreateCommandBuffer(q cl.QueueHandle) (cl.CommandBufferHandle, cl.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, failed := d.enterLocked(cl.CallCreateCommandBuffer); failed {
		return 0, st
	}
	if !d.device.HasExtension(cl.ExtCommandBuffer) {
		return 0, cl.ExtensionFunctionNotPresent
	}
	h := cl.CommandBufferHandle(d.handleLocked())
	d.buffers[h] = &commandBuffer{queue: q}
	return h, cl.Success
}

func (d *Driver) CommandNDRangeKernel(cb cl.CommandBufferHandle, k cl.Kernel, offset, global, local cl.NDRange) (cl.MutableCommandHandle, cl.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, failed := d.enterLocked(cl.CallCommandNDRangeKernel); failed {
		return 0, st
	}
	buf, ok := d.buffers[cb]
	if !ok {
		return 0, cl.InvalidCommandBuffer
	}
	if buf.finalized {
		return 0, cl.InvalidOperation
	}
	if st := checkRanges(offset, global, local); st != cl.Success {
		return 0, st
	}
	if st := d.checkArgsLocked(k); st != cl.Success {
		return 0, st
	}
	cmd := &command{
		handle: cl.MutableCommandHandle(d.handleLocked()),
		kernel: k,
		offset: offset,
		global: global,
		local:  local,
		args:   maps.Clone(d.kernelArgs[k.Handle]),
	}
	if cmd.args == nil {
		cmd.args = make(map[uint32]HexBytes)
	}
	buf.commands = append(buf.commands, cmd)
	return cmd.handle, cl.Success
}

func (d *Driver) FinalizeCommandBuffer(cb cl.CommandBufferHandle) cl.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, failed := d.enterLocked(cl.CallFinalizeCommandBuffer); failed {
		return st
	}
	buf, ok := d.buffers[cb]
	if !ok {
		return cl.InvalidCommandBuffer
	}
	if buf.finalized {
		return cl.InvalidOperation
	}
	buf.finalized = true
	return cl.Success
}

func (d *Driver) UpdateMutableCommands(cb cl.CommandBufferHandle, updates []cl.MutableDispatch) cl.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, failed := d.enterLocked(cl.CallUpdateMutableCommands); failed {
		return st
	}
	buf, ok := d.buffers[cb]
	if !ok {
		return cl.InvalidCommandBuffer
	}
	if !buf.finalized {
		return cl.InvalidOperation
	}
	// Validate everything first so a bad update leaves the buffer untouched.
	targets := make([]*command, len(updates))
	for i, u := range updates {
		idx := slices.IndexFunc(buf.commands, func(c *command) bool { return c.handle == u.Command })
		if idx < 0 {
			return cl.InvalidMutableCommand
		}
		for _, a := range u.Args {
			if a.Size == 0 || a.Value == nil {
				return cl.InvalidArgValue
			}
		}
		targets[i] = buf.commands[idx]
	}
	for i, u := range updates {
		for _, a := range u.Args {
			targets[i].args[a.Index] = HexBytes(slices.Clone(unsafe.Slice((*byte)(a.Value), a.Size)))
		}
	}
	return cl.Success
}

func (d *Driver) EnqueueCommandBuffer(q cl.QueueHandle, cb cl.CommandBufferHandle) cl.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, failed := d.enterLocked(cl.CallEnqueueCommandBuffer); failed {
		return st
	}
	buf, ok := d.buffers[cb]
	if !ok {
		return cl.InvalidCommandBuffer
	}
	if !buf.finalized {
		return cl.InvalidOperation
	}
	if q != buf.queue {
		return cl.IncompatibleCommandQueue
	}
	for _, c := range buf.commands {
		d.launchLocked(ViaCommandBuffer, c.kernel, c.offset, c.global, c.local, maps.Clone(c.args))
	}
	return cl.Success
}

func (d *Driver) ReleaseCommandBuffer(cb cl.CommandBufferHandle) cl.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, failed := d.enterLocked(cl.CallReleaseCommandBuffer); failed {
		return st
	}
	if _, ok := d.buffers[cb]; !ok {
		return cl.InvalidCommandBuffer
	}
	delete(d.buffers, cb)
	return cl.Success
}

func (d *Driver) enterLocked(call string) (cl.Status, bool) {
	d.calls = append(d.calls, call)
	if st, ok := d.failures[call]; ok {
		return st, true
	}
	return cl.Success, false
}

func (d *Driver) checkArgsLocked(k cl.Kernel) cl.Status {
	args := d.kernelArgs[k.Handle]
	for i := range d.arity[k.Handle] {
		if _, ok := args[i]; !ok {
			return cl.InvalidKernelArgs
		}
	}
	return cl.Success
}

func (d *Driver) handleLocked() uintptr {
	d.next++
	return d.next
}

func (d *Driver) launchLocked(via string, k cl.Kernel, offset, global, local cl.NDRange, args map[uint32]HexBytes) {
	d.launches = append(d.launches, Launch{
		Seq:    len(d.launches),
		Via:    via,
		Kernel: k.Name,
		Offset: offset,
		Global: global,
		Local:  local,
		Args:   args,
	})
}

func checkRanges(offset, global, local cl.NDRange) cl.Status {
	if global.IsNull() {
		return cl.InvalidGlobalWorkSize
	}
	if !offset.IsNull() && offset.Dimensions() != global.Dimensions() {
		return cl.InvalidGlobalOffset
	}
	if !local.IsNull() {
		if local.Dimensions() != global.Dimensions() {
			return cl.InvalidWorkGroupSize
		}
		for i := range global.Dimensions() {
			if local.At(i) == 0 || global.At(i)%local.At(i) != 0 {
				return cl.InvalidWorkGroupSize
			}
		}
	}
	return cl.Success
}
