package walker

//go:generate go run github.com/cilium/ebpf/cmd/bpf2go -type per_pid_data -type event -type symbol -type struct_offsets -target amd64 -cc clang -cflags "-O2 -Wall -Werror -fpie -Wno-unused-variable -Wno-unused-function" Pyperf bpf/pyperf.bpf.c -- -I bpf/libbpf -I bpf/vmlinux
