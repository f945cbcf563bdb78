//go:build opencl

// Package native binds the OpenCL runtime through cgo. The command buffer
// entry points are extension functions and are resolved per platform at
// Open time.
package native

/*
#cgo LDFLAGS: -lOpenCL

// Minimal OpenCL forward declarations so the build does not need CL headers.
// The linker still requires libOpenCL when building with the opencl tag.
#include <stdint.h>
#include <stdlib.h>
#include <string.h>

typedef int32_t cl_int;
typedef uint32_t cl_uint;
typedef uint64_t cl_ulong;
typedef cl_ulong cl_bitfield;
typedef cl_ulong cl_properties;
typedef struct _cl_platform_id* cl_platform_id;
typedef struct _cl_device_id* cl_device_id;
typedef struct _cl_context* cl_context;
typedef struct _cl_command_queue* cl_command_queue;
typedef struct _cl_mem* cl_mem;
typedef struct _cl_program* cl_program;
typedef struct _cl_kernel* cl_kernel;
typedef struct _cl_command_buffer_khr* cl_command_buffer_khr;
typedef struct _cl_mutable_command_khr* cl_mutable_command_khr;
typedef cl_uint cl_sync_point_khr;

#define CLD_DEVICE_TYPE_GPU (1 << 2)
#define CLD_DEVICE_NAME 0x102B
#define CLD_DEVICE_EXTENSIONS 0x1030
#define CLD_DEVICE_IMAGE2D_MAX_WIDTH 0x1011
#define CLD_DEVICE_IMAGE2D_MAX_HEIGHT 0x1012
#define CLD_MEM_READ_WRITE (1 << 0)
#define CLD_COMMAND_BUFFER_FLAGS_KHR 0x1293
#define CLD_COMMAND_BUFFER_MUTABLE_KHR (1 << 1)
#define CLD_MUTABLE_DISPATCH_UPDATABLE_FIELDS_KHR 0x12B1
#define CLD_MUTABLE_DISPATCH_ARGUMENTS_KHR (1 << 2)
#define CLD_STRUCTURE_TYPE_MUTABLE_DISPATCH_CONFIG_KHR 0
#define CLD_OUT_OF_HOST_MEMORY -6

extern cl_int clGetPlatformIDs(cl_uint, cl_platform_id*, cl_uint*);
extern cl_int clGetDeviceIDs(cl_platform_id, cl_bitfield, cl_uint, cl_device_id*, cl_uint*);
extern cl_int clGetDeviceInfo(cl_device_id, cl_uint, size_t, void*, size_t*);
extern cl_context clCreateContext(const intptr_t*, cl_uint, const cl_device_id*, void*, void*, cl_int*);
extern cl_command_queue clCreateCommandQueueWithProperties(cl_context, cl_device_id, const cl_properties*, cl_int*);
extern cl_mem clCreateBuffer(cl_context, cl_bitfield, size_t, void*, cl_int*);
extern cl_program clCreateProgramWithSource(cl_context, cl_uint, const char**, const size_t*, cl_int*);
extern cl_int clBuildProgram(cl_program, cl_uint, const cl_device_id*, const char*, void*, void*);
extern cl_kernel clCreateKernel(cl_program, const char*, cl_int*);
extern cl_int clSetKernelArg(cl_kernel, cl_uint, size_t, const void*);
extern cl_int clEnqueueNDRangeKernel(cl_command_queue, cl_kernel, cl_uint, const size_t*, const size_t*, const size_t*, cl_uint, const void*, void*);
extern cl_int clFinish(cl_command_queue);
extern cl_int clReleaseMemObject(cl_mem);
extern cl_int clReleaseKernel(cl_kernel);
extern cl_int clReleaseProgram(cl_program);
extern cl_int clReleaseCommandQueue(cl_command_queue);
extern cl_int clReleaseContext(cl_context);
extern void* clGetExtensionFunctionAddressForPlatform(cl_platform_id, const char*);

typedef cl_command_buffer_khr (*cld_create_fn)(cl_uint, const cl_command_queue*, const cl_properties*, cl_int*);
typedef cl_int (*cld_command_fn)(cl_command_buffer_khr, cl_command_queue, const cl_properties*, cl_kernel, cl_uint,
	const size_t*, const size_t*, const size_t*, cl_uint, const cl_sync_point_khr*, cl_sync_point_khr*, cl_mutable_command_khr*);
typedef cl_int (*cld_buffer_fn)(cl_command_buffer_khr);
typedef cl_int (*cld_enqueue_fn)(cl_uint, cl_command_queue*, cl_command_buffer_khr, cl_uint, const void*, void*);
typedef cl_int (*cld_update_fn)(cl_command_buffer_khr, cl_uint, const cl_uint*, const void**);

typedef struct {
	cl_uint arg_index;
	size_t arg_size;
	const void* arg_value;
} cldArg;

typedef struct {
	cl_mutable_command_khr command;
	cl_uint num_args;
	cl_uint num_svm_args;
	cl_uint num_exec_infos;
	cl_uint work_dim;
	const cldArg* arg_list;
	const void* arg_svm_list;
	const void* exec_info_list;
	const size_t* global_work_offset;
	const size_t* global_work_size;
	const size_t* local_work_size;
} cldDispatchConfig;

typedef struct {
	cld_create_fn create;
	cld_command_fn command;
	cld_buffer_fn finalize;
	cld_update_fn update;
	cld_enqueue_fn enqueue;
	cld_buffer_fn release;
} cldExt;

static int cldLoadExt(cldExt* ext, uintptr_t platform) {
	cl_platform_id p = (cl_platform_id)platform;
	ext->create = (cld_create_fn)clGetExtensionFunctionAddressForPlatform(p, "clCreateCommandBufferKHR");
	ext->command = (cld_command_fn)clGetExtensionFunctionAddressForPlatform(p, "clCommandNDRangeKernelKHR");
	ext->finalize = (cld_buffer_fn)clGetExtensionFunctionAddressForPlatform(p, "clFinalizeCommandBufferKHR");
	ext->update = (cld_update_fn)clGetExtensionFunctionAddressForPlatform(p, "clUpdateMutableCommandsKHR");
	ext->enqueue = (cld_enqueue_fn)clGetExtensionFunctionAddressForPlatform(p, "clEnqueueCommandBufferKHR");
	ext->release = (cld_buffer_fn)clGetExtensionFunctionAddressForPlatform(p, "clReleaseCommandBufferKHR");
	return ext->create && ext->command && ext->finalize && ext->update && ext->enqueue && ext->release;
}

static int cldFirstGPU(uintptr_t* platform, uintptr_t* device) {
	cl_platform_id platforms[8];
	cl_uint np = 0;
	cl_int st = clGetPlatformIDs(8, platforms, &np);
	if (st != 0) return st;
	for (cl_uint i = 0; i < np; i++) {
		cl_device_id dev;
		cl_uint nd = 0;
		if (clGetDeviceIDs(platforms[i], CLD_DEVICE_TYPE_GPU, 1, &dev, &nd) == 0 && nd > 0) {
			*platform = (uintptr_t)platforms[i];
			*device = (uintptr_t)dev;
			return 0;
		}
	}
	return -1;
}

static cl_int cldDeviceInfo(uintptr_t device, cl_uint param, size_t size, void* out, size_t* outSize) {
	return clGetDeviceInfo((cl_device_id)device, param, size, out, outSize);
}

static cl_int cldCreateContext(uintptr_t device, uintptr_t* ctx, uintptr_t* queue) {
	cl_int st = 0;
	cl_device_id dev = (cl_device_id)device;
	cl_context c = clCreateContext(NULL, 1, &dev, NULL, NULL, &st);
	if (st != 0) return st;
	cl_command_queue q = clCreateCommandQueueWithProperties(c, dev, NULL, &st);
	if (st != 0) {
		clReleaseContext(c);
		return st;
	}
	*ctx = (uintptr_t)c;
	*queue = (uintptr_t)q;
	return 0;
}

static void cldReleaseContext(uintptr_t ctx, uintptr_t queue) {
	if (queue) clReleaseCommandQueue((cl_command_queue)queue);
	if (ctx) clReleaseContext((cl_context)ctx);
}

static cl_int cldCreateBuffer(uintptr_t ctx, size_t size, uintptr_t* out) {
	cl_int st = 0;
	cl_mem m = clCreateBuffer((cl_context)ctx, CLD_MEM_READ_WRITE, size, NULL, &st);
	*out = (uintptr_t)m;
	return st;
}

static cl_int cldReleaseBuffer(uintptr_t mem) {
	return clReleaseMemObject((cl_mem)mem);
}

static cl_int cldBuildKernel(uintptr_t ctx, uintptr_t device, const char* src, const char* options, const char* name,
	uintptr_t* program, uintptr_t* kernel) {
	cl_int st = 0;
	cl_device_id dev = (cl_device_id)device;
	cl_program p = clCreateProgramWithSource((cl_context)ctx, 1, &src, NULL, &st);
	if (st != 0) return st;
	st = clBuildProgram(p, 1, &dev, options, NULL, NULL);
	if (st != 0) {
		clReleaseProgram(p);
		return st;
	}
	cl_kernel k = clCreateKernel(p, name, &st);
	if (st != 0) {
		clReleaseProgram(p);
		return st;
	}
	*program = (uintptr_t)p;
	*kernel = (uintptr_t)k;
	return 0;
}

static void cldReleaseKernel(uintptr_t program, uintptr_t kernel) {
	if (kernel) clReleaseKernel((cl_kernel)kernel);
	if (program) clReleaseProgram((cl_program)program);
}

static cl_int cldSetKernelArg(uintptr_t kernel, cl_uint index, size_t size, const void* value) {
	return clSetKernelArg((cl_kernel)kernel, index, size, value);
}

static cl_int cldEnqueueNDRange(uintptr_t queue, uintptr_t kernel, cl_uint dims,
	const size_t* offset, const size_t* global, const size_t* local) {
	return clEnqueueNDRangeKernel((cl_command_queue)queue, (cl_kernel)kernel, dims, offset, global, local, 0, NULL, NULL);
}

static cl_int cldFinish(uintptr_t queue) {
	return clFinish((cl_command_queue)queue);
}

static cl_int cldCreateCommandBuffer(cldExt* ext, uintptr_t queue, uintptr_t* out) {
	cl_int st = 0;
	cl_command_queue q = (cl_command_queue)queue;
	cl_properties props[] = {CLD_COMMAND_BUFFER_FLAGS_KHR, CLD_COMMAND_BUFFER_MUTABLE_KHR, 0};
	cl_command_buffer_khr cb = ext->create(1, &q, props, &st);
	*out = (uintptr_t)cb;
	return st;
}

static cl_int cldCommandNDRange(cldExt* ext, uintptr_t cb, uintptr_t kernel, cl_uint dims,
	const size_t* offset, const size_t* global, const size_t* local, uintptr_t* out) {
	cl_properties props[] = {CLD_MUTABLE_DISPATCH_UPDATABLE_FIELDS_KHR, CLD_MUTABLE_DISPATCH_ARGUMENTS_KHR, 0};
	cl_mutable_command_khr h = NULL;
	cl_int st = ext->command((cl_command_buffer_khr)cb, NULL, props, (cl_kernel)kernel, dims,
		offset, global, local, 0, NULL, NULL, &h);
	*out = (uintptr_t)h;
	return st;
}

static cl_int cldFinalize(cldExt* ext, uintptr_t cb) {
	return ext->finalize((cl_command_buffer_khr)cb);
}

static cl_int cldEnqueueCommandBuffer(cldExt* ext, uintptr_t queue, uintptr_t cb) {
	cl_command_queue q = (cl_command_queue)queue;
	return ext->enqueue(1, &q, (cl_command_buffer_khr)cb, 0, NULL, NULL);
}

static cl_int cldReleaseCommandBuffer(cldExt* ext, uintptr_t cb) {
	return ext->release((cl_command_buffer_khr)cb);
}

static void cldSetArg(cldArg* args, size_t i, cl_uint index, size_t size, const void* value) {
	args[i].arg_index = index;
	args[i].arg_size = size;
	args[i].arg_value = value;
}

static void cldSetConfig(cldDispatchConfig* configs, size_t i, uintptr_t command, cl_uint n, const cldArg* args) {
	memset(&configs[i], 0, sizeof(cldDispatchConfig));
	configs[i].command = (cl_mutable_command_khr)command;
	configs[i].num_args = n;
	configs[i].arg_list = args;
}

static cl_int cldUpdate(cldExt* ext, uintptr_t cb, cl_uint n, const cldDispatchConfig* configs) {
	cl_uint* types = malloc(n * sizeof(cl_uint));
	const void** ptrs = malloc(n * sizeof(void*));
	if (!types || !ptrs) {
		free(types);
		free(ptrs);
		return CLD_OUT_OF_HOST_MEMORY;
	}
	for (cl_uint i = 0; i < n; i++) {
		types[i] = CLD_STRUCTURE_TYPE_MUTABLE_DISPATCH_CONFIG_KHR;
		ptrs[i] = &configs[i];
	}
	cl_int st = ext->update((cl_command_buffer_khr)cb, n, types, ptrs);
	free(types);
	free(ptrs);
	return st;
}
*/
import "C"

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"unsafe"

	"github.com/samcharles93/cldispatch/internal/cl"
)

type kernelKey struct {
	name    string
	options string
}

type builtKernel struct {
	program C.uintptr_t
	kernel  cl.Kernel
}

// Driver is an OpenCL platform, device, context and queue.
type Driver struct {
	platform C.uintptr_t
	device   C.uintptr_t
	context  C.uintptr_t
	queue    C.uintptr_t

	ext    C.cldExt
	hasExt bool
	info   cl.DeviceInfo

	kernelDir string

	mu      sync.Mutex
	kernels map[kernelKey]builtKernel
	buffers []cl.Mem
}

// Open binds the first GPU of the first platform that has one. Kernel
// sources are read from kernelDir as <name>.cl.
func Open(kernelDir string) (*Driver, error) {
	d := &Driver{kernelDir: kernelDir, kernels: make(map[kernelKey]builtKernel)}
	if st := C.cldFirstGPU(&d.platform, &d.device); st != 0 {
		return nil, fmt.Errorf("no OpenCL GPU found: %w", cl.Check("clGetDeviceIDs", cl.Status(st)))
	}
	info, err := d.queryDevice()
	if err != nil {
		return nil, err
	}
	d.info = info
	if err := cl.Check("clCreateContext", cl.Status(C.cldCreateContext(d.device, &d.context, &d.queue))); err != nil {
		return nil, err
	}
	if info.HasExtension(cl.ExtCommandBuffer) {
		d.hasExt = C.cldLoadExt(&d.ext, d.platform) != 0
	}
	return d, nil
}

func (d *Driver) queryDevice() (cl.DeviceInfo, error) {
	name, err := d.infoString(C.CLD_DEVICE_NAME)
	if err != nil {
		return cl.DeviceInfo{}, err
	}
	exts, err := d.infoString(C.CLD_DEVICE_EXTENSIONS)
	if err != nil {
		return cl.DeviceInfo{}, err
	}
	var width, height C.size_t
	if err := d.infoValue(C.CLD_DEVICE_IMAGE2D_MAX_WIDTH, unsafe.Pointer(&width), C.size_t(unsafe.Sizeof(width))); err != nil {
		return cl.DeviceInfo{}, err
	}
	if err := d.infoValue(C.CLD_DEVICE_IMAGE2D_MAX_HEIGHT, unsafe.Pointer(&height), C.size_t(unsafe.Sizeof(height))); err != nil {
		return cl.DeviceInfo{}, err
	}
	return cl.DeviceInfo{
		Name:             name,
		Extensions:       strings.Fields(exts),
		Image2DMaxWidth:  uint64(width),
		Image2DMaxHeight: uint64(height),
	}, nil
}

func (d *Driver) infoString(param C.cl_uint) (string, error) {
	var size C.size_t
	if err := cl.Check("clGetDeviceInfo", cl.Status(C.cldDeviceInfo(d.device, param, 0, nil, &size))); err != nil {
		return "", err
	}
	if size == 0 {
		return "", nil
	}
	buf := make([]byte, int(size))
	if err := d.infoValue(param, unsafe.Pointer(&buf[0]), size); err != nil {
		return "", err
	}
	return strings.TrimRight(string(buf), "\x00"), nil
}

func (d *Driver) infoValue(param C.cl_uint, out unsafe.Pointer, size C.size_t) error {
	return cl.Check("clGetDeviceInfo", cl.Status(C.cldDeviceInfo(d.device, param, size, out, nil)))
}

// Device reports the bound device. The command buffer extensions are only
// advertised when their entry points resolved.
func (d *Driver) Device() cl.DeviceInfo {
	info := d.info
	if !d.hasExt {
		info.Extensions = slices.DeleteFunc(slices.Clone(info.Extensions), func(e string) bool {
			return e == cl.ExtCommandBuffer || e == cl.ExtMutableDispatch
		})
	}
	return info
}

// Queue returns the driver's single command queue.
func (d *Driver) Queue() *cl.Queue {
	return cl.NewQueue(d, cl.QueueHandle(d.queue), d.Device())
}

// Kernel builds name from <kernelDir>/<name>.cl with options. Builds are
// cached per option set.
func (d *Driver) Kernel(name string, options []string) (cl.Kernel, error) {
	key := kernelKey{name: name, options: strings.Join(options, " ")}
	d.mu.Lock()
	defer d.mu.Unlock()
	if k, ok := d.kernels[key]; ok {
		return k.kernel, nil
	}

	src, err := os.ReadFile(filepath.Join(d.kernelDir, name+".cl"))
	if err != nil {
		return cl.Kernel{}, fmt.Errorf("read kernel source: %w", err)
	}
	cSrc := C.CString(string(src))
	defer C.free(unsafe.Pointer(cSrc))
	cOpts := C.CString(key.options)
	defer C.free(unsafe.Pointer(cOpts))
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	var program, kernel C.uintptr_t
	if err := cl.Check("clBuildProgram", cl.Status(C.cldBuildKernel(d.context, d.device, cSrc, cOpts, cName, &program, &kernel))); err != nil {
		return cl.Kernel{}, err
	}
	k := cl.Kernel{Handle: uintptr(kernel), Name: name}
	d.kernels[key] = builtKernel{program: program, kernel: k}
	return k, nil
}

// Buffer allocates a read-write device buffer owned by the driver.
func (d *Driver) Buffer(size uint64) (cl.Mem, error) {
	var mem C.uintptr_t
	if err := cl.Check("clCreateBuffer", cl.Status(C.cldCreateBuffer(d.context, C.size_t(size), &mem))); err != nil {
		return 0, err
	}
	d.mu.Lock()
	d.buffers = append(d.buffers, cl.Mem(mem))
	d.mu.Unlock()
	return cl.Mem(mem), nil
}

// Finish blocks until the queue drains.
func (d *Driver) Finish() error {
	return cl.Check("clFinish", cl.Status(C.cldFinish(d.queue)))
}

// Close releases kernels, buffers, the queue and the context.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for _, m := range d.buffers {
		if err := cl.Check("clReleaseMemObject", cl.Status(C.cldReleaseBuffer(C.uintptr_t(m)))); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	d.buffers = nil
	for key, k := range d.kernels {
		C.cldReleaseKernel(k.program, C.uintptr_t(k.kernel.Handle))
		delete(d.kernels, key)
	}
	C.cldReleaseContext(d.context, d.queue)
	d.context, d.queue = 0, 0
	return firstErr
}

func (d *Driver) SetKernelArg(k cl.Kernel, index uint32, size uintptr, value unsafe.Pointer) cl.Status {
	return cl.Status(C.cldSetKernelArg(C.uintptr_t(k.Handle), C.cl_uint(index), C.size_t(size), value))
}

func (d *Driver) EnqueueNDRangeKernel(q cl.QueueHandle, k cl.Kernel, offset, global, local cl.NDRange) cl.Status {
	r := newRanges(offset, global, local)
	return cl.Status(C.cldEnqueueNDRange(C.uintptr_t(q), C.uintptr_t(k.Handle), r.dims, r.offset(), r.global(), r.local()))
}

func (d *Driver) CreateCommandBuffer(q cl.QueueHandle) (cl.CommandBufferHandle, cl.Status) {
	if !d.hasExt {
		return 0, cl.ExtensionFunctionNotPresent
	}
	var cb C.uintptr_t
	st := C.cldCreateCommandBuffer(&d.ext, C.uintptr_t(q), &cb)
	return cl.CommandBufferHandle(cb), cl.Status(st)
}

func (d *Driver) CommandNDRangeKernel(cb cl.CommandBufferHandle, k cl.Kernel, offset, global, local cl.NDRange) (cl.MutableCommandHandle, cl.Status) {
	r := newRanges(offset, global, local)
	var h C.uintptr_t
	st := C.cldCommandNDRange(&d.ext, C.uintptr_t(cb), C.uintptr_t(k.Handle), r.dims, r.offset(), r.global(), r.local(), &h)
	return cl.MutableCommandHandle(h), cl.Status(st)
}

func (d *Driver) FinalizeCommandBuffer(cb cl.CommandBufferHandle) cl.Status {
	return cl.Status(C.cldFinalize(&d.ext, C.uintptr_t(cb)))
}

// UpdateMutableCommands copies every argument value into C memory before the
// call; the driver must not see pointers into Go memory it could retain.
func (d *Driver) UpdateMutableCommands(cb cl.CommandBufferHandle, updates []cl.MutableDispatch) cl.Status {
	if len(updates) == 0 {
		return cl.Success
	}
	var allocs []unsafe.Pointer
	defer func() {
		for _, p := range allocs {
			C.free(p)
		}
	}()
	alloc := func(size uintptr) unsafe.Pointer {
		p := C.calloc(1, C.size_t(size))
		if p != nil {
			allocs = append(allocs, p)
		}
		return p
	}

	configs := (*C.cldDispatchConfig)(alloc(uintptr(len(updates)) * unsafe.Sizeof(C.cldDispatchConfig{})))
	if configs == nil {
		return cl.OutOfHostMemory
	}
	for i, u := range updates {
		var args *C.cldArg
		if len(u.Args) > 0 {
			args = (*C.cldArg)(alloc(uintptr(len(u.Args)) * unsafe.Sizeof(C.cldArg{})))
			if args == nil {
				return cl.OutOfHostMemory
			}
		}
		for j, a := range u.Args {
			v := alloc(a.Size)
			if v == nil {
				return cl.OutOfHostMemory
			}
			C.memcpy(v, a.Value, C.size_t(a.Size))
			C.cldSetArg(args, C.size_t(j), C.cl_uint(a.Index), C.size_t(a.Size), v)
		}
		C.cldSetConfig(configs, C.size_t(i), C.uintptr_t(u.Command), C.cl_uint(len(u.Args)), args)
	}
	return cl.Status(C.cldUpdate(&d.ext, C.uintptr_t(cb), C.cl_uint(len(updates)), configs))
}

func (d *Driver) EnqueueCommandBuffer(q cl.QueueHandle, cb cl.CommandBufferHandle) cl.Status {
	return cl.Status(C.cldEnqueueCommandBuffer(&d.ext, C.uintptr_t(q), C.uintptr_t(cb)))
}

func (d *Driver) ReleaseCommandBuffer(cb cl.CommandBufferHandle) cl.Status {
	return cl.Status(C.cldReleaseCommandBuffer(&d.ext, C.uintptr_t(cb)))
}

// ranges holds an NDRange triple in the layout the C API expects. A null
// offset or local range becomes a NULL pointer.
type ranges struct {
	dims C.cl_uint
	off  [3]C.size_t
	glob [3]C.size_t
	loc  [3]C.size_t

	hasOffset bool
	hasLocal  bool
}

func newRanges(offset, global, local cl.NDRange) *ranges {
	r := &ranges{
		dims:      C.cl_uint(global.Dimensions()),
		hasOffset: !offset.IsNull(),
		hasLocal:  !local.IsNull(),
	}
	for i := range 3 {
		r.off[i] = C.size_t(offset.At(i))
		r.glob[i] = C.size_t(global.At(i))
		r.loc[i] = C.size_t(local.At(i))
	}
	return r
}

func (r *ranges) offset() *C.size_t {
	if !r.hasOffset {
		return nil
	}
	return &r.off[0]
}

func (r *ranges) global() *C.size_t { return &r.glob[0] }

func (r *ranges) local() *C.size_t {
	if !r.hasLocal {
		return nil
	}
	return &r.loc[0]
}
