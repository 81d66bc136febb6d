package main

import (
	"unsafe"
)

/*
#cgo windows LDFLAGS: -lpsapi
#cgo linux LDFLAGS: -ldl

#ifdef _WIN32
#define WIN32_LEAN_AND_MEAN
#include <windows.h>
#include <libloaderapi.h>
#include <stdlib.h>

char* module_path() {
    HMODULE hModule = NULL;
    if (!GetModuleHandleExA(GET_MODULE_HANDLE_EX_FLAG_FROM_ADDRESS |
                           GET_MODULE_HANDLE_EX_FLAG_UNCHANGED_REFCOUNT,
                           (LPCTSTR)module_path,
                           &hModule)) {
        return NULL;
    }

    DWORD size = MAX_PATH;
    char* buffer = NULL;
    for (;;) {
        char* grown = (char*)realloc(buffer, size);
        if (!grown) {
            free(buffer);
            return NULL;
        }
        buffer = grown;
        DWORD n = GetModuleFileNameA(hModule, buffer, size);
        if (n == 0) {
            free(buffer);
            return NULL;
        }
        if (n < size) {
            return buffer;
        }
        size *= 2;
    }
}

#elif __linux__

#define _GNU_SOURCE
#include <dlfcn.h>
#include <stdlib.h>
#include <string.h>

char* module_path() {
    Dl_info info;
    if (dladdr((void*)module_path, &info) == 0 || info.dli_fname == NULL) {
        return NULL;
    }
    return strdup(info.dli_fname);
}

#else

#include <stdlib.h>

char* module_path() {
    return NULL;
}

#endif
*/
import "C"

// getModulePath returns the absolute path of the shared library this code was
// loaded from, or "" when it cannot be determined.
func getModulePath() string {
	p := C.module_path()
	if p == nil {
		return ""
	}
	defer C.free(unsafe.Pointer(p))
	return C.GoString(p)
}
